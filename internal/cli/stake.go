package cli

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/permafrost-labs/glacier/internal/domain"
	"github.com/permafrost-labs/glacier/internal/staking"
)

// NewStakeCommand creates the stake command group.
func NewStakeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Open, inspect and settle vault positions",
		Long: `Open, inspect and settle time-locked vault positions.

Staked principal leaves the liquid balance immediately. Yield accrues
as simple interest against the pool's APY; exiting before maturity
forfeits a penalty that decays linearly to zero at the lock's end.

Example:
  glacier stake pools
  glacier stake open pool_1y 1000 -u alice
  glacier stake quote <stake-id> -u alice
  glacier stake close <stake-id> -u alice`,
	}

	cmd.AddCommand(newStakePoolsCommand(rootOpts))
	cmd.AddCommand(newStakeOpenCommand(rootOpts))
	cmd.AddCommand(newStakeListCommand(rootOpts))
	cmd.AddCommand(newStakeQuoteCommand(rootOpts))
	cmd.AddCommand(newStakeCloseCommand(rootOpts))
	return cmd
}

// stakeRunE wraps a stake handler with app wiring and rejection
// rendering.
func stakeRunE(rootOpts *RootOptions, needUser bool, run func(*App, *OutputFormatter, *cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if needUser {
			if err := requireUser(rootOpts); err != nil {
				return err
			}
		}
		app, err := openApp(rootOpts)
		if err != nil {
			return err
		}
		defer app.Close()

		out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), rootOpts.Verbose)
		err = run(app, out, cmd, args)

		var derr *domain.Error
		if errors.As(err, &derr) {
			return out.Rejection(derr)
		}
		return err
	}
}

func newStakePoolsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pools",
		Short:         "List the vault tier table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: stakeRunE(rootOpts, false, func(app *App, out *OutputFormatter, cmd *cobra.Command, args []string) error {
			pools := app.Staking.Pools()
			if done, err := out.JSON(pools); done {
				return err
			}
			for _, p := range pools {
				out.Printf("%-10s %-16s lock %4dd  apy %6.2f%%  penalty %5.2f%%\n",
					p.ID, p.Name, p.LockDurationDays, p.APYPercent, p.PenaltyRatePercent)
			}
			return nil
		}),
	}
}

func newStakeOpenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "open <pool-id> <amount>",
		Short:         "Lock liquid balance into a vault pool",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: stakeRunE(rootOpts, true, func(app *App, out *OutputFormatter, cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			pos, err := app.Staking.Stake(context.Background(), rootOpts.User, args[0], amount)
			if err != nil {
				return err
			}
			if done, err := out.JSON(positionPayload(pos)); done {
				return err
			}
			out.Printf("position %s opened: %s in %s, matures %s\n",
				pos.ID, out.Amount(pos.Principal), pos.Pool.ID,
				pos.MaturesAt.Format("2006-01-02"))
			return nil
		}),
	}
}

func newStakeListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List the user's open positions, valued now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: stakeRunE(rootOpts, true, func(app *App, out *OutputFormatter, cmd *cobra.Command, args []string) error {
			views, err := app.Staking.Positions(context.Background(), rootOpts.User)
			if err != nil {
				return err
			}
			if done, err := out.JSON(positionsPayload(views)); done {
				return err
			}
			if len(views) == 0 {
				out.Printf("no open positions\n")
				return nil
			}
			for _, v := range views {
				out.Printf("%s  %s  principal %s  yield %s  penalty %s  net %s\n",
					v.ID, v.Pool.ID, out.Amount(v.Principal),
					out.Amount(v.AccruedYield), out.Amount(v.Penalty),
					out.Amount(v.NetPayout))
			}
			return nil
		}),
	}
}

func newStakeQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "quote <stake-id>",
		Short:         "Value a position without settling it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: stakeRunE(rootOpts, true, func(app *App, out *OutputFormatter, cmd *cobra.Command, args []string) error {
			view, err := app.Staking.Quote(context.Background(), args[0])
			if err != nil {
				return err
			}
			if done, err := out.JSON(positionPayload(view)); done {
				return err
			}
			out.Printf("position %s (%s)\n", view.ID, view.Pool.ID)
			out.Printf("  principal: %s\n", out.Amount(view.Principal))
			out.Printf("  yield:     %s\n", out.Amount(view.AccruedYield))
			out.Printf("  penalty:   %s (%.4f%%)\n", out.Amount(view.Penalty), view.PenaltyRate)
			out.Printf("  net now:   %s\n", out.Amount(view.NetPayout))
			if view.Matured {
				out.Printf("  matured\n")
			} else {
				out.Printf("  matures:   %s\n", view.MaturesAt.Format("2006-01-02"))
			}
			return nil
		}),
	}
}

func newStakeCloseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "close <stake-id>",
		Short:         "Settle and close a position",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: stakeRunE(rootOpts, true, func(app *App, out *OutputFormatter, cmd *cobra.Command, args []string) error {
			res, err := app.Staking.Unstake(context.Background(), args[0])
			if err != nil {
				return err
			}
			if done, err := out.JSON(map[string]interface{}{
				"position": positionPayload(res.Position),
				"receipt":  res.Receipt,
			}); done {
				return err
			}
			out.Printf("position %s settled: %s credited", res.Position.ID, out.Amount(res.Position.NetPayout))
			if res.Position.Penalty > 0 {
				out.Printf(" (%s forfeited)", out.Amount(res.Position.Penalty))
			}
			out.Printf("\n")
			return nil
		}),
	}
}

func parseAmount(raw string) (float64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "invalid amount "+strconv.Quote(raw), err)
	}
	return amount, nil
}

func positionPayload(v staking.PositionView) map[string]interface{} {
	return map[string]interface{}{
		"id":            v.ID,
		"user":          v.UserID,
		"pool":          v.Pool.ID,
		"principal":     v.Principal,
		"started_at":    v.StartedAt,
		"matures_at":    v.MaturesAt,
		"accrued_yield": v.AccruedYield,
		"matured":       v.Matured,
		"penalty_rate":  v.PenaltyRate,
		"penalty":       v.Penalty,
		"net_payout":    v.NetPayout,
	}
}

func positionsPayload(views []staking.PositionView) []map[string]interface{} {
	out := make([]map[string]interface{}, len(views))
	for i, v := range views {
		out[i] = positionPayload(v)
	}
	return out
}
