// Package staking implements time-locked vault positions with simple
// interest accrual and graduated early-exit penalties.
//
// A position is immutable once opened: principal, pool and start time
// never change, and pool terms are frozen at stake time. Everything
// variable - accrued yield, remaining penalty - is derived from the
// trusted clock at read time, so two quotes at the same instant always
// agree.
package staking

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
	Debit(ctx context.Context, userID string, amount float64) error
	Credit(ctx context.Context, userID string, amount float64) error
	CreditPool(ctx context.Context, pool string, amount float64) error

	InsertPosition(ctx context.Context, p store.Position) error
	GetPosition(ctx context.Context, stakeID string) (store.Position, error)
	ListOpenPositions(ctx context.Context, userID string) ([]store.Position, error)
	ClosePosition(ctx context.Context, stakeID string, at time.Time) (bool, error)

	AppendReceipt(ctx context.Context, r store.Receipt) error

	// Transact runs fn atomically: all statements commit together or
	// none persist.
	Transact(ctx context.Context, fn func(tx *store.Store) error) error
}

// Engine opens and settles vault positions.
type Engine struct {
	guard   *clock.Guard
	store   Store
	vaults  []config.VaultTier
	recycle ledger.DistributionPolicy
	tokens  domain.TokenGenerator

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenGenerator overrides the stake/receipt token source.
func WithTokenGenerator(gen domain.TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// New creates a staking engine over the given vault tier table.
func New(guard *clock.Guard, st Store, vaults []config.VaultTier, recycle ledger.DistributionPolicy, opts ...Option) *Engine {
	e := &Engine{
		guard:   guard,
		store:   st,
		vaults:  vaults,
		recycle: recycle,
		tokens:  domain.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pools returns the vault tier table.
func (e *Engine) Pools() []config.VaultTier {
	out := make([]config.VaultTier, len(e.vaults))
	copy(out, e.vaults)
	return out
}

// PositionView is a stake position with its derived valuation.
type PositionView struct {
	ID        string
	UserID    string
	Pool      config.VaultTier
	Principal float64
	StartedAt time.Time
	MaturesAt time.Time

	// AccruedYield is the simple interest earned so far.
	AccruedYield float64

	// Matured is true once the lock duration has fully elapsed.
	Matured bool

	// PenaltyRate is the current early-exit penalty in percent,
	// decayed linearly from the pool's base rate to 0 at maturity.
	PenaltyRate float64

	// Penalty is the amount forfeited by exiting now.
	Penalty float64

	// NetPayout is principal plus yield minus penalty.
	NetPayout float64
}

// Stake locks amount from the user's liquid balance into the given
// vault pool and opens a new position under the pool's current terms.
func (e *Engine) Stake(ctx context.Context, userID, poolID string, amount float64) (PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return PositionView{}, domain.NewInvalidAmount(amount)
	}
	vault, ok := e.lookupVault(poolID)
	if !ok {
		return PositionView{}, domain.NewUnknownPool(poolID)
	}

	now := e.guard.Now()
	pos := store.Position{
		ID:        e.tokens.Generate(),
		UserID:    userID,
		PoolID:    poolID,
		Principal: amount,
		StartedAt: now,
	}
	receipt := store.Receipt{
		Token:     e.tokens.Generate(),
		Kind:      store.ReceiptStake,
		UserID:    userID,
		Ref:       pos.ID,
		Amount:    amount,
		CreatedAt: now,
	}

	// Debit, position and receipt land together: a failure on any of
	// them rolls the whole stake back, so principal is never taken
	// without an open position to show for it.
	err := e.store.Transact(ctx, func(tx *store.Store) error {
		if err := tx.Debit(ctx, userID, amount); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("stake: %w", err)
		}
		if err := tx.AppendReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("stake: %w", err)
		}
		return nil
	})
	if err != nil {
		return PositionView{}, err
	}

	slog.Info("position opened",
		"stake", pos.ID,
		"user", userID,
		"pool", poolID,
		"principal", amount)
	return e.value(pos, vault, now), nil
}

// Quote values a position at the current instant without settling it.
// The caller sees exactly what Unstake would pay right now.
func (e *Engine) Quote(ctx context.Context, stakeID string) (PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, vault, err := e.lookup(ctx, stakeID)
	if err != nil {
		return PositionView{}, err
	}
	if !pos.Open() {
		return PositionView{}, domain.NewAlreadyClosed(stakeID)
	}
	return e.value(pos, vault, e.guard.Now()), nil
}

// UnstakeResult is the settlement of a closed position.
type UnstakeResult struct {
	Position PositionView

	// Receipt identifies the payout in the audit trail.
	Receipt string
}

// Unstake settles and closes a position.
//
// The user is credited principal plus accrued yield minus the current
// early-exit penalty; the penalty itself is recycled into the system
// pools rather than destroyed. At or past maturity the penalty is
// exactly zero. The close is at-most-once: a concurrent or repeated
// unstake of the same id fails with ALREADY_CLOSED and pays nothing.
//
// Close, payout, recycle and receipts commit as one transaction, so a
// failure after the close never leaves a closed position that was
// never paid out.
func (e *Engine) Unstake(ctx context.Context, stakeID string) (UnstakeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, vault, err := e.lookup(ctx, stakeID)
	if err != nil {
		return UnstakeResult{}, err
	}

	now := e.guard.Now()
	view := e.value(pos, vault, now)

	var token string
	err = e.store.Transact(ctx, func(tx *store.Store) error {
		closed, err := tx.ClosePosition(ctx, stakeID, now)
		if err != nil {
			return fmt.Errorf("unstake: %w", err)
		}
		if !closed {
			return domain.NewAlreadyClosed(stakeID)
		}

		if view.NetPayout > 0 {
			if err := tx.Credit(ctx, pos.UserID, view.NetPayout); err != nil {
				return fmt.Errorf("unstake: %w", err)
			}
		}
		if view.Penalty > 0 {
			for _, alloc := range e.recycle.Apply(view.Penalty) {
				if err := tx.CreditPool(ctx, alloc.Name, alloc.Amount); err != nil {
					return fmt.Errorf("unstake: %w", err)
				}
			}
			penaltyReceipt := store.Receipt{
				Token:     e.tokens.Generate(),
				Kind:      store.ReceiptPenalty,
				UserID:    pos.UserID,
				Ref:       stakeID,
				Amount:    view.Penalty,
				CreatedAt: now,
			}
			if err := tx.AppendReceipt(ctx, penaltyReceipt); err != nil {
				return fmt.Errorf("unstake: %w", err)
			}
		}

		token = e.tokens.Generate()
		receipt := store.Receipt{
			Token:     token,
			Kind:      store.ReceiptUnstake,
			UserID:    pos.UserID,
			Ref:       stakeID,
			Amount:    view.NetPayout,
			CreatedAt: now,
		}
		if err := tx.AppendReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("unstake: %w", err)
		}
		return nil
	})
	if err != nil {
		return UnstakeResult{}, err
	}

	slog.Info("position settled",
		"stake", stakeID,
		"user", pos.UserID,
		"payout", view.NetPayout,
		"penalty", view.Penalty,
		"matured", view.Matured)
	return UnstakeResult{Position: view, Receipt: token}, nil
}

// Positions returns the user's open positions, valued now, ordered by
// stake id.
func (e *Engine) Positions(ctx context.Context, userID string) ([]PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open, err := e.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	now := e.guard.Now()
	views := make([]PositionView, 0, len(open))
	for _, pos := range open {
		vault, ok := e.lookupVault(pos.PoolID)
		if !ok {
			return nil, domain.NewUnknownPool(pos.PoolID)
		}
		views = append(views, e.value(pos, vault, now))
	}
	return views, nil
}

// value derives a position's valuation at the given instant. Elapsed
// time is clamped at zero so a clock running behind the start never
// produces negative yield or a penalty above the base rate.
func (e *Engine) value(pos store.Position, vault config.VaultTier, now time.Time) PositionView {
	elapsed := now.Sub(pos.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	lock := vault.LockDuration()
	matured := elapsed >= lock

	yield := ledger.Yield(pos.Principal, vault.APYPercent, elapsed)

	var penaltyRate float64
	if !matured && lock > 0 {
		remaining := lock - elapsed
		penaltyRate = vault.PenaltyRatePercent * float64(remaining) / float64(lock)
	}
	penalty := pos.Principal * penaltyRate / 100

	return PositionView{
		ID:           pos.ID,
		UserID:       pos.UserID,
		Pool:         vault,
		Principal:    pos.Principal,
		StartedAt:    pos.StartedAt,
		MaturesAt:    pos.StartedAt.Add(lock),
		AccruedYield: yield,
		Matured:      matured,
		PenaltyRate:  penaltyRate,
		Penalty:      penalty,
		NetPayout:    pos.Principal + yield - penalty,
	}
}

func (e *Engine) lookup(ctx context.Context, stakeID string) (store.Position, config.VaultTier, error) {
	pos, err := e.store.GetPosition(ctx, stakeID)
	if err != nil {
		return store.Position{}, config.VaultTier{}, err
	}
	vault, ok := e.lookupVault(pos.PoolID)
	if !ok {
		return store.Position{}, config.VaultTier{}, domain.NewUnknownPool(pos.PoolID)
	}
	return pos, vault, nil
}

func (e *Engine) lookupVault(poolID string) (config.VaultTier, bool) {
	for _, v := range e.vaults {
		if v.ID == poolID {
			return v, true
		}
	}
	return config.VaultTier{}, false
}
