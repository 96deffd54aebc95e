// Package config compiles the core's tier tables and engine tunables
// from CUE. Reward constants, timings and split tables are tunable
// business parameters, so they live in data, not code; the compiler
// validates them so the engines never see a malformed table.
package config

import (
	"time"

	"github.com/permafrost-labs/glacier/internal/ledger"
)

// VaultTier describes one staking vault.
//
// Read-only to the core: the table is supplied by the pricing/config
// collaborator and is immutable while positions reference it.
type VaultTier struct {
	// ID is the pool identifier referenced by stake positions.
	ID string

	// Name is the display label.
	Name string

	// LockDurationDays is the economic lock length.
	LockDurationDays int

	// APYPercent is the simple-interest annual rate.
	APYPercent float64

	// PenaltyRatePercent is the early-exit penalty at time zero of the
	// lock; it decays linearly to 0 at maturity.
	PenaltyRatePercent float64
}

// LockDuration returns the lock length as a duration.
func (v VaultTier) LockDuration() time.Duration {
	return time.Duration(v.LockDurationDays) * 24 * time.Hour
}

// TierStatus is the lifecycle state of a conversion tier.
type TierStatus string

const (
	// StatusClosed marks a tier whose price window has passed. Closure
	// is permanent - a closed tier never reopens.
	StatusClosed TierStatus = "CLOSED"

	// StatusActive marks the single tier honored for conversions.
	StatusActive TierStatus = "ACTIVE"

	// StatusUpcoming marks a tier whose price window has not opened.
	StatusUpcoming TierStatus = "UPCOMING"
)

// ConversionTier describes one multiplier/price window of the one-way
// liquid-to-locked conversion ladder.
type ConversionTier struct {
	Name         string
	Multiplier   float64
	ClosingPrice float64
	Status       TierStatus
}

// SessionSettings are the session engine tunables.
type SessionSettings struct {
	RequiredHouseAds    int
	RequiredCheckpoints int

	LoopDuration   time.Duration
	AdDuration     time.Duration
	ResumeBuffer   time.Duration
	MinLoopTime    time.Duration
	MinHouseAdTime time.Duration

	YieldPerCheckpoint float64

	// Payout splits every checkpoint payout (user/permafrost/staking).
	Payout ledger.DistributionPolicy

	// AllowFastCheckpoints disables the speed-limit rejection. A
	// development aid only: production configurations keep it false,
	// and the engine logs every rejection it suppresses.
	AllowFastCheckpoints bool
}

// Config is the compiled configuration consumed by the engines.
type Config struct {
	Session SessionSettings

	// Recycle splits early-exit penalties between the war chest and
	// the staking pool.
	Recycle ledger.DistributionPolicy

	// LoyaltyBonus is the multiplicative conversion bonus for users
	// holding long-term-loyalty (legacy) status.
	LoyaltyBonus float64

	Vaults     []VaultTier
	Conversion []ConversionTier
}

// Vault returns the vault tier with the given pool id.
func (c *Config) Vault(poolID string) (VaultTier, bool) {
	for _, v := range c.Vaults {
		if v.ID == poolID {
			return v, true
		}
	}
	return VaultTier{}, false
}

// ActiveConversionTier returns the single ACTIVE tier.
//
// The compiler guarantees exactly one exists, so ok is false only for
// a zero-value Config.
func (c *Config) ActiveConversionTier() (ConversionTier, bool) {
	for _, t := range c.Conversion {
		if t.Status == StatusActive {
			return t, true
		}
	}
	return ConversionTier{}, false
}
