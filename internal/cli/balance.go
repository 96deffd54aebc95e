package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "balance",
		Short:         "Show the user's liquid and locked balances",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(rootOpts); err != nil {
				return err
			}
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := context.Background()
			liquid, err := app.Store.LiquidBalance(ctx, rootOpts.User)
			if err != nil {
				return err
			}
			locked, err := app.Store.LockedBalance(ctx, rootOpts.User)
			if err != nil {
				return err
			}
			legacy, err := app.Store.HasLegacy(ctx, rootOpts.User)
			if err != nil {
				return err
			}

			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), rootOpts.Verbose)
			if done, err := out.JSON(map[string]interface{}{
				"user":   rootOpts.User,
				"liquid": liquid,
				"locked": locked,
				"legacy": legacy,
			}); done {
				return err
			}
			out.Printf("liquid: %s\n", out.Amount(liquid))
			out.Printf("locked: %s\n", out.Amount(locked))
			if legacy {
				out.Printf("legacy holder: loyalty bonus applies to conversions\n")
			}
			return nil
		},
	}
}

// NewReceiptsCommand creates the receipts command.
func NewReceiptsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "receipts",
		Short:         "List the user's audit trail",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(rootOpts); err != nil {
				return err
			}
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			receipts, err := app.Store.ListReceipts(context.Background(), rootOpts.User)
			if err != nil {
				return err
			}

			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), rootOpts.Verbose)
			if done, err := out.JSON(receipts); done {
				return err
			}
			if len(receipts) == 0 {
				out.Printf("no receipts\n")
				return nil
			}
			for _, r := range receipts {
				out.Printf("%6d  %-18s %s  %s  %s\n",
					r.Seq, r.Kind, out.Amount(r.Amount), r.Ref,
					r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
