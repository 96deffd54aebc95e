// Package harness is a conformance framework for the value-accrual
// core: scenarios written in YAML drive the real engines over a fresh
// in-memory store with a manual clock and sequential tokens, so every
// run of a scenario produces the identical trace. Golden files pin
// those traces down.
package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/permafrost-labs/glacier/internal/clock"
	"github.com/permafrost-labs/glacier/internal/config"
	"github.com/permafrost-labs/glacier/internal/convert"
	"github.com/permafrost-labs/glacier/internal/domain"
	"github.com/permafrost-labs/glacier/internal/session"
	"github.com/permafrost-labs/glacier/internal/staking"
	"github.com/permafrost-labs/glacier/internal/store"
	"github.com/permafrost-labs/glacier/internal/testutil"
)

// Harness wires the three engines over shared deterministic
// collaborators for one scenario run.
type Harness struct {
	store    *store.Store
	clock    *testutil.ManualClock
	sessions *session.Engine
	staking  *staking.Engine
	convert  *convert.Engine

	// sessionByUser tracks the live session id per user; stakeLabels
	// resolves Save/Stake references between steps.
	sessionByUser map[string]string
	stakeLabels   map[string]string
}

// Run executes a scenario and returns its result.
//
// Each scenario runs in a fresh in-memory database. The clock starts
// at the fixed test epoch and moves only through Step.Advance, and all
// token generation is sequential, so traces are reproducible.
func Run(scenario *Scenario) (*Result, error) {
	cfg := config.Default()
	if err := applySettings(cfg, scenario.Settings); err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mc := testutil.NewManualClock(testutil.Epoch)
	guard := clock.NewGuard(mc)
	tokens := domain.NewSequenceGenerator("flow")

	feed := convert.NewStaticFeed(cfg.Conversion)
	h := &Harness{
		store: st,
		clock: mc,
		sessions: session.New(guard, st, cfg.Session,
			session.WithTokenGenerator(tokens)),
		staking: staking.New(guard, st, cfg.Vaults, cfg.Recycle,
			staking.WithTokenGenerator(tokens)),
		convert: convert.New(guard, st, feed, cfg.LoyaltyBonus,
			convert.WithTokenGenerator(tokens)),
		sessionByUser: map[string]string{},
		stakeLabels:   map[string]string{},
	}

	ctx := context.Background()
	if err := h.seedUsers(ctx, scenario.Users); err != nil {
		return nil, err
	}

	result := &Result{}
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, Staking: h.staking}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func applySettings(cfg *config.Config, s *Settings) error {
	if s == nil {
		return nil
	}
	if s.RequiredHouseAds != nil {
		cfg.Session.RequiredHouseAds = *s.RequiredHouseAds
	}
	if s.RequiredCheckpoints != nil {
		cfg.Session.RequiredCheckpoints = *s.RequiredCheckpoints
	}
	if s.AllowFastCheckpoints != nil {
		cfg.Session.AllowFastCheckpoints = *s.AllowFastCheckpoints
	}
	if err := overrideDuration("min_loop_time", s.MinLoopTime, &cfg.Session.MinLoopTime); err != nil {
		return err
	}
	if err := overrideDuration("min_house_ad_time", s.MinHouseAdTime, &cfg.Session.MinHouseAdTime); err != nil {
		return err
	}
	return overrideDuration("ad_duration", s.AdDuration, &cfg.Session.AdDuration)
}

func overrideDuration(field, raw string, target *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("settings.%s: %w", field, err)
	}
	*target = d
	return nil
}

func (h *Harness) seedUsers(ctx context.Context, users map[string]UserSeed) error {
	// Seed in sorted order so receipt-free setup is still deterministic.
	for _, id := range sortedKeys(users) {
		seed := users[id]
		if seed.Liquid > 0 {
			if err := h.store.Credit(ctx, id, seed.Liquid); err != nil {
				return fmt.Errorf("seed user %s: %w", id, err)
			}
		}
		if seed.Legacy {
			if err := h.store.SetLegacy(ctx, id, true); err != nil {
				return fmt.Errorf("seed user %s: %w", id, err)
			}
		}
	}
	return nil
}

// executeStep runs one step and appends its trace event. Rejections
// from the engines are outcomes, not infrastructure failures: they are
// matched against the expect clause and recorded in the trace either
// way. Only store or harness faults abort the run.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("flow[%d]: advance: %w", index, err)
		}
		h.clock.Advance(d)
	}

	event := TraceEvent{Seq: index + 1, Op: step.Op, User: step.User}
	opErr := h.dispatch(ctx, step, &event)

	if opErr != nil {
		code, ok := domain.ErrCode(opErr)
		if !ok {
			return fmt.Errorf("flow[%d] %s: %w", index, step.Op, opErr)
		}
		event.Error = string(code)
	}
	result.Trace = append(result.Trace, event)

	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if event.Error != want {
		if want == "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected rejection %s", index, step.Op, event.Error))
		} else if event.Error == "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected rejection %s, got success", index, step.Op, want))
		} else {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected rejection %s, got %s", index, step.Op, want, event.Error))
		}
	}
	return nil
}

func (h *Harness) dispatch(ctx context.Context, step Step, event *TraceEvent) error {
	switch step.Op {
	case OpSessionStart:
		res, err := h.sessions.Start(ctx, step.User)
		if err != nil {
			return err
		}
		h.sessionByUser[step.User] = res.Session.ID
		event.State = string(res.Session.State)
		return nil

	case OpSessionHouseAd:
		res, err := h.sessions.WatchHouseAd(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		event.State = string(res.Session.State)
		return nil

	case OpSessionAdBreak:
		view, err := h.sessions.BeginAdBreak(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		event.State = string(view.State)
		return nil

	case OpSessionFinishAd:
		view, err := h.sessions.FinishAd(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		event.State = string(view.State)
		return nil

	case OpSessionAcknowledge:
		view, err := h.sessions.Acknowledge(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		event.State = string(view.State)
		return nil

	case OpSessionCheckpoint:
		res, err := h.sessions.Checkpoint(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		event.State = string(res.Session.State)
		event.Amount = res.Earned
		event.Completed = res.Completed
		if res.Completed {
			delete(h.sessionByUser, step.User)
		}
		return nil

	case OpSessionComplete:
		res, err := h.sessions.Complete(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		delete(h.sessionByUser, step.User)
		event.Amount = res.Total
		return nil

	case OpSessionAbandon:
		res, err := h.sessions.Abandon(ctx, h.sessionID(step.User))
		if err != nil {
			return err
		}
		delete(h.sessionByUser, step.User)
		event.Amount = res.Total
		return nil

	case OpStakeOpen:
		pos, err := h.staking.Stake(ctx, step.User, step.Pool, step.Amount)
		if err != nil {
			return err
		}
		if step.Save != "" {
			h.stakeLabels[step.Save] = pos.ID
		}
		event.Amount = pos.Principal
		return nil

	case OpStakeQuote:
		view, err := h.staking.Quote(ctx, h.stakeLabels[step.Stake])
		if err != nil {
			return err
		}
		event.Amount = view.NetPayout
		return nil

	case OpStakeClose:
		res, err := h.staking.Unstake(ctx, h.stakeLabels[step.Stake])
		if err != nil {
			return err
		}
		event.Amount = res.Position.NetPayout
		return nil

	case OpConvert:
		res, err := h.convert.Convert(ctx, step.User, step.Amount, step.Tier)
		if err != nil {
			return err
		}
		event.Amount = res.Locked
		return nil
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// sessionID resolves the user's live session. An unknown user maps to
// an empty id, which the engine refuses as INVALID_SESSION.
func (h *Harness) sessionID(user string) string {
	return h.sessionByUser[user]
}

func sortedKeys(users map[string]UserSeed) []string {
	keys := make([]string, 0, len(users))
	for k := range users {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
