package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/permafrost-labs/glacier/internal/domain"
	"github.com/permafrost-labs/glacier/internal/session"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Drive the attention-mining session",
		Long: `Drive the attention-mining session for a user.

The session is persisted in the database, so each subcommand is one
transition: start the session, watch the house ads, open and finish ad
breaks, acknowledge presence, and record checkpoints. Checkpoints
reported faster than the minimum loop time are rejected.

Example:
  glacier session start -u alice
  glacier session checkpoint -u alice`,
	}

	cmd.AddCommand(
		sessionAction(rootOpts, "start", "Start or resume the user's session", runSessionStart),
		sessionAction(rootOpts, "house-ad", "Record one completed house ad", runSessionHouseAd),
		sessionAction(rootOpts, "ad-break", "Enter the mining ad window", runSessionAdBreak),
		sessionAction(rootOpts, "finish-ad", "Record the mining ad as watched", runSessionFinishAd),
		sessionAction(rootOpts, "ack", "Acknowledge presence at the anti-AFK gate", runSessionAck),
		sessionAction(rootOpts, "checkpoint", "Record an ad checkpoint", runSessionCheckpoint),
		sessionAction(rootOpts, "status", "Show the current session", runSessionStatus),
		sessionAction(rootOpts, "abandon", "Abandon the session, flushing earned yield", runSessionAbandon),
	)
	return cmd
}

func sessionAction(rootOpts *RootOptions, use, short string, run func(*App, *OutputFormatter, string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
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

			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout(), rootOpts.Verbose)
			err = run(app, out, rootOpts.User)

			var derr *domain.Error
			if errors.As(err, &derr) {
				return out.Rejection(derr)
			}
			return err
		},
	}
}

// currentSession resolves the user's live session id. Commands other
// than start refuse to guess: no session means nothing to drive.
func currentSession(app *App, user string) (string, error) {
	ctx := context.Background()
	rec, err := app.Store.SessionByUser(ctx, user)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", domain.NewInvalidSession("")
	}
	return rec.ID, nil
}

func runSessionStart(app *App, out *OutputFormatter, user string) error {
	res, err := app.Sessions.Start(context.Background(), user)
	if err != nil {
		return err
	}
	if done, err := out.JSON(sessionViewPayload(res.Session, res.Resumed)); done {
		return err
	}
	verb := "started"
	if res.Resumed {
		verb = "resumed"
	}
	out.Printf("session %s: %s (state %s)\n", verb, res.Session.ID, res.Session.State)
	return nil
}

func runSessionHouseAd(app *App, out *OutputFormatter, user string) error {
	id, err := currentSession(app, user)
	if err != nil {
		return err
	}
	res, err := app.Sessions.WatchHouseAd(context.Background(), id)
	if err != nil {
		return err
	}
	if done, err := out.JSON(sessionViewPayload(res.Session, false)); done {
		return err
	}
	out.Printf("house ad %d recorded (state %s)\n", res.Session.HouseAdsWatched, res.Session.State)
	return nil
}

func runSessionAdBreak(app *App, out *OutputFormatter, user string) error {
	return runTransition(app, out, user, app.Sessions.BeginAdBreak, "ad break opened")
}

func runSessionFinishAd(app *App, out *OutputFormatter, user string) error {
	return runTransition(app, out, user, app.Sessions.FinishAd, "mining ad recorded")
}

func runSessionAck(app *App, out *OutputFormatter, user string) error {
	return runTransition(app, out, user, app.Sessions.Acknowledge, "presence acknowledged")
}

func runTransition(app *App, out *OutputFormatter, user string, op func(context.Context, string) (session.View, error), label string) error {
	id, err := currentSession(app, user)
	if err != nil {
		return err
	}
	view, err := op(context.Background(), id)
	if err != nil {
		return err
	}
	if done, err := out.JSON(sessionViewPayload(view, false)); done {
		return err
	}
	out.Printf("%s (state %s)\n", label, view.State)
	return nil
}

func runSessionCheckpoint(app *App, out *OutputFormatter, user string) error {
	id, err := currentSession(app, user)
	if err != nil {
		return err
	}
	res, err := app.Sessions.Checkpoint(context.Background(), id)
	if err != nil {
		return err
	}
	if done, err := out.JSON(map[string]interface{}{
		"session":       sessionViewPayload(res.Session, false),
		"earned":        res.Earned,
		"receipt":       res.Receipt,
		"completed":     res.Completed,
		"session_total": res.SessionTotal,
	}); done {
		return err
	}
	if res.Completed {
		out.Printf("checkpoint %d recorded, session complete: %s credited\n",
			res.Session.AdsWatched, out.Amount(res.SessionTotal))
		return nil
	}
	out.Printf("checkpoint %d recorded: %s earned\n",
		res.Session.AdsWatched, out.Amount(res.Earned))
	return nil
}

func runSessionStatus(app *App, out *OutputFormatter, user string) error {
	id, err := currentSession(app, user)
	if err != nil {
		return err
	}
	view, err := app.Sessions.Get(context.Background(), id)
	if err != nil {
		return err
	}
	if done, err := out.JSON(sessionViewPayload(view, false)); done {
		return err
	}
	out.Printf("session %s\n", view.ID)
	out.Printf("  state:       %s\n", view.State)
	out.Printf("  house ads:   %d\n", view.HouseAdsWatched)
	out.Printf("  checkpoints: %d\n", view.AdsWatched)
	out.Printf("  accumulated: %s\n", out.Amount(view.AccumulatedYield))
	return nil
}

func runSessionAbandon(app *App, out *OutputFormatter, user string) error {
	id, err := currentSession(app, user)
	if err != nil {
		return err
	}
	res, err := app.Sessions.Abandon(context.Background(), id)
	if err != nil {
		return err
	}
	if done, err := out.JSON(map[string]interface{}{"total": res.Total}); done {
		return err
	}
	out.Printf("session abandoned: %s credited\n", out.Amount(res.Total))
	return nil
}

func sessionViewPayload(v session.View, resumed bool) map[string]interface{} {
	payload := map[string]interface{}{
		"id":                v.ID,
		"user":              v.UserID,
		"state":             string(v.State),
		"started_at":        v.StartedAt,
		"last_checkpoint":   v.LastCheckpointAt,
		"house_ads_watched": v.HouseAdsWatched,
		"ads_watched":       v.AdsWatched,
		"accumulated_yield": v.AccumulatedYield,
	}
	if resumed {
		payload["resumed"] = true
	}
	return payload
}
