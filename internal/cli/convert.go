package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/permafrost-labs/glacier/internal/config"
	"github.com/permafrost-labs/glacier/internal/domain"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	*RootOptions
	Tier string
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "convert <amount>",
		Short: "Convert liquid balance into locked balance",
		Long: `Convert liquid balance into locked balance at the active tier's
multiplier. Conversion is one-way: there is no command that unlocks a
locked balance.

Pass --tier to pin the conversion to a quoted tier; it then executes
only if that tier is still the active one.

Example:
  glacier convert 1000 -u alice
  glacier convert 1000 -u alice --tier DIAMOND`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(rootOpts); err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), rootOpts.Verbose)
			err = runConvert(app, out, rootOpts.User, amount, opts.Tier)

			var derr *domain.Error
			if errors.As(err, &derr) {
				return out.Rejection(derr)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Tier, "tier", "", "pin the conversion to this tier name")
	return cmd
}

func runConvert(app *App, out *OutputFormatter, user string, amount float64, tier string) error {
	res, err := app.Convert.Convert(context.Background(), user, amount, tier)
	if err != nil {
		return err
	}
	if done, err := out.JSON(map[string]interface{}{
		"tier":            res.Quote.Tier.Name,
		"multiplier":      res.Quote.Multiplier,
		"loyalty_applied": res.Quote.LoyaltyApplied,
		"debited":         res.Debited,
		"locked":          res.Locked,
		"receipt":         res.Receipt,
	}); done {
		return err
	}
	out.Printf("converted %s at %s x%.4f: %s locked\n",
		out.Amount(res.Debited), res.Quote.Tier.Name, res.Quote.Multiplier,
		out.Amount(res.Locked))
	if res.Quote.LoyaltyApplied {
		out.Printf("loyalty bonus applied\n")
	}
	return nil
}

// NewTiersCommand creates the tiers command.
func NewTiersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tiers",
		Short:         "Show the conversion tier ladder",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), rootOpts.Verbose)
			tiers := app.Convert.Tiers()
			if done, err := out.JSON(tiers); done {
				return err
			}
			for _, t := range tiers {
				marker := " "
				if t.Status == config.StatusActive {
					marker = "*"
				}
				out.Printf("%s %-10s x%-5.2f closes at %.4f  [%s]\n",
					marker, t.Name, t.Multiplier, t.ClosingPrice, t.Status)
			}
			return nil
		},
	}
}
