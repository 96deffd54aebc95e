// Package cli implements the glacier command tree. Commands open the
// shared SQLite database, run one engine operation, and exit; the
// session record store is what makes the session survive between
// invocations.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database   string
	ConfigPath string
	User       string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the glacier CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "glacier",
		Short: "glacier - temporal value accrual core",
		Long: `Attention-mining sessions, time-locked staking vaults and the
one-way conversion ladder, over a local SQLite ledger.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			logLevel := slog.LevelWarn
			if opts.Verbose {
				logLevel = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "glacier.db", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to CUE configuration (defaults to the embedded tables)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "acting user id (required by most commands)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewStakeCommand(opts))
	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewTiersCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewReceiptsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// requireUser validates the --user flag for commands that act on a
// user's behalf.
func requireUser(opts *RootOptions) error {
	if opts.User == "" {
		return WrapExitError(ExitCommandError, "--user is required", nil)
	}
	return nil
}
