// Package convert implements the one-way tiered conversion of liquid
// balance into locked balance.
//
// Conversion is a ratchet: liquid funds become locked at the single
// ACTIVE tier's multiplier and there is no operation anywhere in the
// core that moves value the other way. Tier progression is likewise
// one-way; a CLOSED tier never reopens.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/permafrost-labs/glacier/internal/clock"
	"github.com/permafrost-labs/glacier/internal/config"
	"github.com/permafrost-labs/glacier/internal/domain"
	"github.com/permafrost-labs/glacier/internal/store"
)

// TierFeed supplies the conversion tier table. The feed is read-only
// to this engine: tier lifecycle (opening and closing price windows)
// belongs to the pricing collaborator behind the feed.
type TierFeed interface {
	// Tiers returns the full ladder in declaration order.
	Tiers() []config.ConversionTier

	// Active returns the single ACTIVE tier.
	Active() (config.ConversionTier, bool)
}

// StaticFeed is a TierFeed over a fixed, compiled tier table.
type StaticFeed struct {
	tiers []config.ConversionTier
}

// NewStaticFeed creates a feed over the given ladder.
func NewStaticFeed(tiers []config.ConversionTier) *StaticFeed {
	out := make([]config.ConversionTier, len(tiers))
	copy(out, tiers)
	return &StaticFeed{tiers: out}
}

// Tiers implements TierFeed.
func (f *StaticFeed) Tiers() []config.ConversionTier {
	out := make([]config.ConversionTier, len(f.tiers))
	copy(out, f.tiers)
	return out
}

// Active implements TierFeed.
func (f *StaticFeed) Active() (config.ConversionTier, bool) {
	for _, t := range f.tiers {
		if t.Status == config.StatusActive {
			return t, true
		}
	}
	return config.ConversionTier{}, false
}

// Store is the persistence surface the engine depends on.
// Satisfied by *store.Store.
type Store interface {
	Debit(ctx context.Context, userID string, amount float64) error
	CreditLocked(ctx context.Context, userID string, amount float64) error
	HasLegacy(ctx context.Context, userID string) (bool, error)
	AppendReceipt(ctx context.Context, r store.Receipt) error

	// Transact runs fn atomically: all statements commit together or
	// none persist.
	Transact(ctx context.Context, fn func(tx *store.Store) error) error
}

// Engine performs liquid-to-locked conversions.
type Engine struct {
	guard        *clock.Guard
	store        Store
	feed         TierFeed
	loyaltyBonus float64
	tokens       domain.TokenGenerator

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenGenerator overrides the receipt token source.
func WithTokenGenerator(gen domain.TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// New creates a conversion engine. loyaltyBonus is the multiplicative
// bonus applied on top of the tier multiplier for legacy holders.
func New(guard *clock.Guard, st Store, feed TierFeed, loyaltyBonus float64, opts ...Option) *Engine {
	e := &Engine{
		guard:        guard,
		store:        st,
		feed:         feed,
		loyaltyBonus: loyaltyBonus,
		tokens:       domain.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tiers returns the conversion ladder.
func (e *Engine) Tiers() []config.ConversionTier {
	return e.feed.Tiers()
}

// Quote describes what a conversion would produce right now, without
// performing it.
type Quote struct {
	Tier       config.ConversionTier
	Multiplier float64

	// LoyaltyApplied is true when the legacy-holder bonus is included
	// in Multiplier.
	LoyaltyApplied bool
}

// QuoteFor returns the effective conversion terms for the user under
// the currently active tier.
func (e *Engine) QuoteFor(ctx context.Context, userID string) (Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quote(ctx, userID)
}

func (e *Engine) quote(ctx context.Context, userID string) (Quote, error) {
	tier, ok := e.feed.Active()
	if !ok {
		return Quote{}, domain.NewTierClosed("")
	}

	legacy, err := e.store.HasLegacy(ctx, userID)
	if err != nil {
		return Quote{}, fmt.Errorf("quote conversion: %w", err)
	}

	multiplier := tier.Multiplier
	if legacy {
		multiplier *= e.loyaltyBonus
	}
	return Quote{Tier: tier, Multiplier: multiplier, LoyaltyApplied: legacy}, nil
}

// Result is a completed conversion.
type Result struct {
	Quote Quote

	// Debited is the liquid amount consumed.
	Debited float64

	// Locked is the locked amount credited: Debited times the
	// effective multiplier.
	Locked float64

	// Receipt identifies the conversion in the audit trail.
	Receipt string

	// At is the conversion instant.
	At time.Time
}

// Convert debits amount from the user's liquid balance and credits
// amount times the effective multiplier to the locked balance.
//
// When expectTier is non-empty the conversion is pinned: it executes
// only if the named tier is the ACTIVE one at execution time, so a
// user quoted under one tier is never silently settled under another.
// The debit itself enforces sufficiency; a rejected conversion moves
// nothing.
func (e *Engine) Convert(ctx context.Context, userID string, amount float64, expectTier string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return Result{}, domain.NewInvalidAmount(amount)
	}

	q, err := e.quote(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if expectTier != "" && expectTier != q.Tier.Name {
		return Result{}, domain.NewTierClosed(expectTier)
	}

	locked := amount * q.Multiplier
	now := e.guard.Now()
	token := e.tokens.Generate()
	receipt := store.Receipt{
		Token:     token,
		Kind:      store.ReceiptConvert,
		UserID:    userID,
		Ref:       q.Tier.Name,
		Amount:    locked,
		CreatedAt: now,
	}

	// Debit, locked credit and receipt commit as one transaction: a
	// failure on any of them moves nothing.
	err = e.store.Transact(ctx, func(tx *store.Store) error {
		if err := tx.Debit(ctx, userID, amount); err != nil {
			return err
		}
		if err := tx.CreditLocked(ctx, userID, locked); err != nil {
			return fmt.Errorf("convert: %w", err)
		}
		if err := tx.AppendReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("convert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	slog.Info("conversion settled",
		"user", userID,
		"tier", q.Tier.Name,
		"debited", amount,
		"locked", locked,
		"loyalty", q.LoyaltyApplied)
	return Result{
		Quote:   q,
		Debited: amount,
		Locked:  locked,
		Receipt: token,
		At:      now,
	}, nil
}
