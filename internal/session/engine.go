// Package session owns the per-user attention-mining session state
// machine and its security-critical checkpoint validation.
//
// Sessions are explicit records keyed by session id, persisted through
// the store and mutated only by the operations on Engine - never by
// presentation state. All timing decisions route through the fraud
// guard; a client-reported countdown is display state, not evidence.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/permafrost-labs/glacier/internal/clock"
	"github.com/permafrost-labs/glacier/internal/config"
	"github.com/permafrost-labs/glacier/internal/domain"
	"github.com/permafrost-labs/glacier/internal/ledger"
	"github.com/permafrost-labs/glacier/internal/store"
)

// Store is the persistence surface the engine depends on.
// Satisfied by *store.Store.
type Store interface {
	SessionByUser(ctx context.Context, userID string) (*store.SessionRecord, error)
	SessionByID(ctx context.Context, sessionID string) (*store.SessionRecord, error)
	InsertSession(ctx context.Context, rec store.SessionRecord) error
	UpdateSession(ctx context.Context, rec store.SessionRecord) error
	DeleteSession(ctx context.Context, sessionID string) error

	Credit(ctx context.Context, userID string, amount float64) error
	CreditPool(ctx context.Context, pool string, amount float64) error
	AppendReceipt(ctx context.Context, r store.Receipt) error

	// Transact runs fn atomically: all statements commit together or
	// none persist.
	Transact(ctx context.Context, fn func(tx *store.Store) error) error
}

// Engine is the attention-mining session engine.
//
// Thread-safety model: a single mutex serializes every session
// mutation, mirroring the single-writer design this engine's event
// handling is derived from. The read-check-write of the timing guard
// and the mutation of lastCheckpointAt/adsWatched are therefore atomic
// with respect to all other calls.
type Engine struct {
	guard  *clock.Guard
	store  Store
	cfg    config.SessionSettings
	tokens domain.TokenGenerator

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenGenerator overrides the session/receipt token source.
// Tests use domain.FixedGenerator or domain.SequenceGenerator.
func WithTokenGenerator(gen domain.TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// New creates a session engine.
func New(guard *clock.Guard, st Store, cfg config.SessionSettings, opts ...Option) *Engine {
	e := &Engine{
		guard:  guard,
		store:  st,
		cfg:    cfg,
		tokens: domain.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// View is a read-only snapshot of a session.
type View struct {
	ID               string
	UserID           string
	State            State
	StartedAt        time.Time
	LastCheckpointAt time.Time
	HouseAdsWatched  int
	AdsWatched       int
	AccumulatedYield float64
}

func viewOf(rec *store.SessionRecord) View {
	return View{
		ID:               rec.ID,
		UserID:           rec.UserID,
		State:            State(rec.State),
		StartedAt:        rec.StartedAt,
		LastCheckpointAt: rec.LastCheckpointAt,
		HouseAdsWatched:  rec.HouseAdsWatched,
		AdsWatched:       rec.AdsWatched,
		AccumulatedYield: rec.AccumulatedYield,
	}
}

// StartResult is the outcome of Start.
type StartResult struct {
	Session View

	// Resumed is true when an active session already existed for the
	// user and was returned instead of creating a second one.
	Resumed bool
}

// Start begins or resumes the user's attention-mining session.
//
// Compare-and-create: at most one session exists per user. When one
// already exists its id and state are returned (a recoverable
// duplicate, not an error). Only a parked session - IDLE or
// INITIALIZING - is advanced to its landing state; a session caught
// mid-flow keeps its state, so restarting inside MINING_AD or ANTI_AFK
// never releases the presence gate.
func (e *Engine) Start(ctx context.Context, userID string) (StartResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.SessionByUser(ctx, userID)
	if err != nil {
		return StartResult{}, fmt.Errorf("start session: %w", err)
	}
	if existing != nil {
		switch State(existing.State) {
		case StateIdle, StateInitializing:
			existing.State = string(e.landingState(existing))
			if err := e.store.UpdateSession(ctx, *existing); err != nil {
				return StartResult{}, fmt.Errorf("start session: %w", err)
			}
		}
		slog.Info("session resumed",
			"session", existing.ID,
			"user", userID,
			"state", existing.State)
		return StartResult{Session: viewOf(existing), Resumed: true}, nil
	}

	now := e.guard.Now()
	rec := store.SessionRecord{
		ID:               e.tokens.Generate(),
		UserID:           userID,
		StartedAt:        now,
		LastCheckpointAt: now,
	}
	rec.State = string(e.landingState(&rec))

	if err := e.store.InsertSession(ctx, rec); err != nil {
		return StartResult{}, fmt.Errorf("start session: %w", err)
	}

	slog.Info("session started",
		"session", rec.ID,
		"user", userID,
		"state", rec.State)
	return StartResult{Session: viewOf(&rec)}, nil
}

// landingState is where a session settles after Start's INITIALIZING
// step: HOUSE_ADS while the entry toll is unpaid, ACTIVE_LOOP after.
func (e *Engine) landingState(rec *store.SessionRecord) State {
	if rec.HouseAdsWatched < e.cfg.RequiredHouseAds {
		return StateHouseAds
	}
	return StateActiveLoop
}

// HouseAdResult is the outcome of WatchHouseAd.
type HouseAdResult struct {
	Session View

	// TollPaid is true once the required house-ad count is reached and
	// the session has moved to ACTIVE_LOOP.
	TollPaid bool
}

// WatchHouseAd records one completed house ad of the entry toll.
//
// Pacing is validated against the fraud guard: a completion reported
// faster than the configured minimum ad time is rejected with
// SPEED_LIMIT_EXCEEDED and no state change.
func (e *Engine) WatchHouseAd(ctx context.Context, sessionID string) (HouseAdResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return HouseAdResult{}, err
	}
	if State(rec.State) != StateHouseAds {
		return HouseAdResult{}, domain.NewInvalidState(sessionID, rec.State, "watch house ad")
	}

	baseline := rec.StartedAt
	if rec.LastHouseAdAt != nil {
		baseline = *rec.LastHouseAdAt
	}
	if elapsed, ok := e.guard.Check(baseline, e.cfg.MinHouseAdTime); !ok {
		return HouseAdResult{}, domain.NewSpeedLimit(sessionID, elapsed, e.cfg.MinHouseAdTime)
	}

	now := e.guard.Now()
	rec.HouseAdsWatched++
	rec.LastHouseAdAt = &now
	tollPaid := rec.HouseAdsWatched >= e.cfg.RequiredHouseAds
	if tollPaid {
		rec.State = string(StateActiveLoop)
	}
	if err := e.store.UpdateSession(ctx, *rec); err != nil {
		return HouseAdResult{}, fmt.Errorf("watch house ad: %w", err)
	}

	slog.Debug("house ad recorded",
		"session", rec.ID,
		"house_ads", rec.HouseAdsWatched,
		"toll_paid", tollPaid)
	return HouseAdResult{Session: viewOf(rec), TollPaid: tollPaid}, nil
}

// BeginAdBreak moves the session from the engagement loop into the ad
// window. The loop countdown itself is presentation state; the
// authoritative pacing control is the checkpoint floor, so this
// transition carries no timing check of its own.
func (e *Engine) BeginAdBreak(ctx context.Context, sessionID string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	if State(rec.State) != StateActiveLoop {
		return View{}, domain.NewInvalidState(sessionID, rec.State, "begin ad break")
	}

	now := e.guard.Now()
	rec.State = string(StateMiningAd)
	rec.AdBreakAt = &now
	if err := e.store.UpdateSession(ctx, *rec); err != nil {
		return View{}, fmt.Errorf("begin ad break: %w", err)
	}
	return viewOf(rec), nil
}

// FinishAd records the mining ad as watched and presents the anti-AFK
// gate. Rejected when the ad window could not yet have played out.
func (e *Engine) FinishAd(ctx context.Context, sessionID string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	if State(rec.State) != StateMiningAd || rec.AdBreakAt == nil {
		return View{}, domain.NewInvalidState(sessionID, rec.State, "finish ad")
	}
	if elapsed, ok := e.guard.Check(*rec.AdBreakAt, e.cfg.AdDuration); !ok {
		return View{}, domain.NewSpeedLimit(sessionID, elapsed, e.cfg.AdDuration)
	}

	rec.State = string(StateAntiAFK)
	if err := e.store.UpdateSession(ctx, *rec); err != nil {
		return View{}, fmt.Errorf("finish ad: %w", err)
	}
	return viewOf(rec), nil
}

// Acknowledge is the explicit human-presence action that releases the
// anti-AFK gate. No timer path replaces it: a session that entered
// ANTI_AFK cannot checkpoint until this is called.
func (e *Engine) Acknowledge(ctx context.Context, sessionID string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	if State(rec.State) != StateAntiAFK {
		return View{}, domain.NewInvalidState(sessionID, rec.State, "acknowledge presence")
	}

	rec.State = string(StateResuming)
	rec.AdBreakAt = nil
	if err := e.store.UpdateSession(ctx, *rec); err != nil {
		return View{}, fmt.Errorf("acknowledge: %w", err)
	}
	return viewOf(rec), nil
}

// CheckpointResult is the outcome of a successful checkpoint.
type CheckpointResult struct {
	Session View

	// Earned is the user's share of this checkpoint's payout.
	Earned float64

	// Receipt identifies the payout in the audit trail.
	Receipt string

	// Completed is true when this checkpoint was the session's last:
	// the accumulated user share has been credited and the session
	// destroyed.
	Completed bool

	// SessionTotal is the accumulated user share flushed to the liquid
	// balance; set only when Completed.
	SessionTotal float64
}

// Checkpoint validates and records one ad checkpoint.
//
// This is the abuse boundary: the elapsed time since the previous
// checkpoint must reach the configured minimum loop time, measured
// exclusively against the trusted clock. A rejected call mutates no
// counters or timestamps - it only routes the session back to IDLE -
// and is never retried by the engine; the caller must wait.
//
// On success the per-checkpoint yield is split by the distribution
// policy at this instant: the user share is appended to the session's
// accumulated yield, every other share is credited to its pool
// account. When the required checkpoint count is reached the session
// completes: the accumulated user share is flushed to the liquid
// balance exactly once and the session record is destroyed. The whole
// settlement runs in one transaction - a failure partway through
// leaves pools, receipts and the session row untouched.
func (e *Engine) Checkpoint(ctx context.Context, sessionID string) (CheckpointResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return CheckpointResult{}, err
	}
	if !checkpointAllowed(State(rec.State)) {
		return CheckpointResult{}, domain.NewInvalidState(sessionID, rec.State, "record checkpoint")
	}

	elapsed, ok := e.guard.Check(rec.LastCheckpointAt, e.cfg.MinLoopTime)
	if !ok {
		if !e.cfg.AllowFastCheckpoints {
			slog.Warn("speed limit exceeded",
				"session", rec.ID,
				"elapsed", elapsed,
				"minimum", e.cfg.MinLoopTime)
			rec.State = string(StateIdle)
			if err := e.store.UpdateSession(ctx, *rec); err != nil {
				return CheckpointResult{}, fmt.Errorf("record checkpoint: %w", err)
			}
			return CheckpointResult{}, domain.NewSpeedLimit(sessionID, elapsed, e.cfg.MinLoopTime)
		}
		slog.Warn("speed check bypassed by configuration",
			"session", rec.ID,
			"elapsed", elapsed,
			"minimum", e.cfg.MinLoopTime)
	}

	now := e.guard.Now()
	rec.LastCheckpointAt = now
	rec.AdsWatched++
	rec.AdBreakAt = nil

	token := e.tokens.Generate()
	completed := rec.AdsWatched >= e.cfg.RequiredCheckpoints

	var earned, total float64
	err = e.store.Transact(ctx, func(tx *store.Store) error {
		for _, alloc := range e.cfg.Payout.Apply(e.cfg.YieldPerCheckpoint) {
			if alloc.Name == ledger.ShareUser {
				earned = alloc.Amount
				rec.AccumulatedYield += alloc.Amount
				continue
			}
			if err := tx.CreditPool(ctx, alloc.Name, alloc.Amount); err != nil {
				return fmt.Errorf("record checkpoint: %w", err)
			}
		}

		receipt := store.Receipt{
			Token:     token,
			Kind:      store.ReceiptCheckpoint,
			UserID:    rec.UserID,
			Ref:       rec.ID,
			Amount:    earned,
			CreatedAt: now,
		}
		if err := tx.AppendReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("record checkpoint: %w", err)
		}
		if completed {
			rec.State = string(StateClaiming)
			var err error
			total, _, err = e.teardown(ctx, tx, rec)
			return err
		}
		rec.State = string(StateActiveLoop)
		if err := tx.UpdateSession(ctx, *rec); err != nil {
			return fmt.Errorf("record checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return CheckpointResult{}, err
	}

	slog.Info("checkpoint recorded",
		"session", rec.ID,
		"ads_watched", rec.AdsWatched,
		"earned", earned,
		"receipt", token)

	if completed {
		result := CheckpointResult{
			Session:      viewOf(rec),
			Earned:       earned,
			Receipt:      token,
			Completed:    true,
			SessionTotal: total,
		}
		result.Session.State = StateCompleted
		return result, nil
	}
	return CheckpointResult{Session: viewOf(rec), Earned: earned, Receipt: token}, nil
}

// CompleteResult is the outcome of Complete.
type CompleteResult struct {
	// Total is the accumulated user share credited to the liquid balance.
	Total float64

	// Receipt identifies the batch credit in the audit trail.
	Receipt string
}

// Complete flushes a finished session's accumulated yield to the
// user's liquid balance and destroys the session.
//
// The final checkpoint performs this automatically; Complete exists
// for presentation layers that drive the transition explicitly.
// Idempotent at the boundary: a second call finds no session and fails
// with INVALID_SESSION - never a double credit.
func (e *Engine) Complete(ctx context.Context, sessionID string) (CompleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return CompleteResult{}, err
	}
	if rec.AdsWatched < e.cfg.RequiredCheckpoints {
		return CompleteResult{}, domain.NewInvalidState(sessionID, rec.State, "complete session")
	}

	var (
		total float64
		token string
	)
	err = e.store.Transact(ctx, func(tx *store.Store) error {
		total, token, err = e.teardown(ctx, tx, rec)
		return err
	})
	if err != nil {
		return CompleteResult{}, err
	}
	return CompleteResult{Total: total, Receipt: token}, nil
}

// Abandon destroys a session on behalf of an external timeout policy,
// flushing any yield already earned. The core itself never times a
// session out; when to abandon is the presentation layer's decision.
func (e *Engine) Abandon(ctx context.Context, sessionID string) (CompleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return CompleteResult{}, err
	}

	slog.Info("session abandoned",
		"session", rec.ID,
		"user", rec.UserID,
		"ads_watched", rec.AdsWatched)
	var (
		total float64
		token string
	)
	err = e.store.Transact(ctx, func(tx *store.Store) error {
		total, token, err = e.teardown(ctx, tx, rec)
		return err
	})
	if err != nil {
		return CompleteResult{}, err
	}
	return CompleteResult{Total: total, Receipt: token}, nil
}

// Get returns a snapshot of an existing session.
func (e *Engine) Get(ctx context.Context, sessionID string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookup(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	return viewOf(rec), nil
}

// teardown credits the accumulated user share exactly once and
// destroys the session record. The delete is what makes a second
// completion INVALID_SESSION rather than a double credit. Runs on the
// caller's transaction so credit, receipt and delete land together.
func (e *Engine) teardown(ctx context.Context, tx *store.Store, rec *store.SessionRecord) (float64, string, error) {
	total := rec.AccumulatedYield
	if total > 0 {
		if err := tx.Credit(ctx, rec.UserID, total); err != nil {
			return 0, "", fmt.Errorf("complete session: %w", err)
		}
	}

	receipt := store.Receipt{
		Token:     e.tokens.Generate(),
		Kind:      store.ReceiptSessionComplete,
		UserID:    rec.UserID,
		Ref:       rec.ID,
		Amount:    total,
		CreatedAt: e.guard.Now(),
	}
	if err := tx.AppendReceipt(ctx, receipt); err != nil {
		return 0, "", fmt.Errorf("complete session: %w", err)
	}

	if err := tx.DeleteSession(ctx, rec.ID); err != nil {
		return 0, "", fmt.Errorf("complete session: %w", err)
	}

	slog.Info("session completed",
		"session", rec.ID,
		"user", rec.UserID,
		"total", total)
	return total, receipt.Token, nil
}

// lookup resolves a session id, mapping absence to INVALID_SESSION.
func (e *Engine) lookup(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	rec, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if rec == nil {
		return nil, domain.NewInvalidSession(sessionID)
	}
	return rec, nil
}
