package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/permafrost-labs/glacier/internal/ledger"
)

//go:embed defaults.cue
var defaultsCUE []byte

// CompileError reports a configuration field that failed validation.
type CompileError struct {
	// Field is the dotted path of the offending field.
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

// rawConfig mirrors the CUE document shape. CUE's Decode matches on
// json tags, so field names here define the file format.
type rawConfig struct {
	Session struct {
		RequiredHouseAds     int        `json:"required_house_ads"`
		RequiredCheckpoints  int        `json:"required_checkpoints"`
		LoopDuration         string     `json:"loop_duration"`
		AdDuration           string     `json:"ad_duration"`
		ResumeBuffer         string     `json:"resume_buffer"`
		MinLoopTime          string     `json:"min_loop_time"`
		MinHouseAdTime       string     `json:"min_house_ad_time"`
		YieldPerCheckpoint   float64    `json:"yield_per_checkpoint"`
		AllowFastCheckpoints bool       `json:"allow_fast_checkpoints"`
		Payout               []rawShare `json:"payout"`
	} `json:"session"`

	Staking struct {
		Recycle []rawShare `json:"recycle"`
	} `json:"staking"`

	LoyaltyBonus float64 `json:"loyalty_bonus"`

	Vaults []struct {
		ID                 string  `json:"id"`
		Name               string  `json:"name"`
		LockDurationDays   int     `json:"lock_duration_days"`
		APYPercent         float64 `json:"apy_percent"`
		PenaltyRatePercent float64 `json:"penalty_rate_percent"`
	} `json:"vaults"`

	Conversion []struct {
		Name         string  `json:"name"`
		Multiplier   float64 `json:"multiplier"`
		ClosingPrice float64 `json:"closing_price"`
		Status       string  `json:"status"`
	} `json:"conversion"`
}

type rawShare struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
}

// Default compiles the embedded default configuration.
//
// Panics on failure: the embedded file is part of the build, so a
// compile error there is a programming mistake, not an input error.
func Default() *Config {
	cfg, err := Parse(defaultsCUE, "defaults.cue")
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// Load reads and compiles a CUE configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse compiles CUE source into a validated Config.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func Parse(source []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(source, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var raw rawConfig
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	return build(raw)
}

// build converts the raw document into engine types, validating as it goes.
func build(raw rawConfig) (*Config, error) {
	cfg := &Config{}

	s := raw.Session
	if s.RequiredHouseAds < 0 {
		return nil, &CompileError{Field: "session.required_house_ads", Message: "must be non-negative"}
	}
	if s.RequiredCheckpoints <= 0 {
		return nil, &CompileError{Field: "session.required_checkpoints", Message: "must be positive"}
	}
	if s.YieldPerCheckpoint <= 0 {
		return nil, &CompileError{Field: "session.yield_per_checkpoint", Message: "must be positive"}
	}

	var err error
	cfg.Session.RequiredHouseAds = s.RequiredHouseAds
	cfg.Session.RequiredCheckpoints = s.RequiredCheckpoints
	cfg.Session.YieldPerCheckpoint = s.YieldPerCheckpoint
	cfg.Session.AllowFastCheckpoints = s.AllowFastCheckpoints

	if cfg.Session.LoopDuration, err = parseDuration("session.loop_duration", s.LoopDuration); err != nil {
		return nil, err
	}
	if cfg.Session.AdDuration, err = parseDuration("session.ad_duration", s.AdDuration); err != nil {
		return nil, err
	}
	if cfg.Session.ResumeBuffer, err = parseDuration("session.resume_buffer", s.ResumeBuffer); err != nil {
		return nil, err
	}
	if cfg.Session.MinLoopTime, err = parseDuration("session.min_loop_time", s.MinLoopTime); err != nil {
		return nil, err
	}
	if cfg.Session.MinHouseAdTime, err = parseDuration("session.min_house_ad_time", s.MinHouseAdTime); err != nil {
		return nil, err
	}

	if cfg.Session.Payout, err = buildPolicy("session.payout", s.Payout); err != nil {
		return nil, err
	}
	if cfg.Session.Payout.Percent(ledger.ShareUser) == 0 {
		return nil, &CompileError{Field: "session.payout", Message: `must contain a "user" share`}
	}

	if cfg.Recycle, err = buildPolicy("staking.recycle", raw.Staking.Recycle); err != nil {
		return nil, err
	}

	if raw.LoyaltyBonus < 1 {
		return nil, &CompileError{Field: "loyalty_bonus", Message: "must be at least 1"}
	}
	cfg.LoyaltyBonus = raw.LoyaltyBonus

	if len(raw.Vaults) == 0 {
		return nil, &CompileError{Field: "vaults", Message: "at least one vault tier is required"}
	}
	seenPool := make(map[string]bool)
	for i, v := range raw.Vaults {
		field := fmt.Sprintf("vaults[%d]", i)
		if v.ID == "" {
			return nil, &CompileError{Field: field + ".id", Message: "id is required"}
		}
		if seenPool[v.ID] {
			return nil, &CompileError{Field: field + ".id", Message: fmt.Sprintf("pool id %q repeats", v.ID)}
		}
		seenPool[v.ID] = true
		if v.LockDurationDays <= 0 {
			return nil, &CompileError{Field: field + ".lock_duration_days", Message: "must be positive"}
		}
		if v.APYPercent < 0 {
			return nil, &CompileError{Field: field + ".apy_percent", Message: "must be non-negative"}
		}
		if v.PenaltyRatePercent < 0 || v.PenaltyRatePercent > 100 {
			return nil, &CompileError{Field: field + ".penalty_rate_percent", Message: "must be within [0, 100]"}
		}
		cfg.Vaults = append(cfg.Vaults, VaultTier{
			ID:                 v.ID,
			Name:               v.Name,
			LockDurationDays:   v.LockDurationDays,
			APYPercent:         v.APYPercent,
			PenaltyRatePercent: v.PenaltyRatePercent,
		})
	}

	if len(raw.Conversion) == 0 {
		return nil, &CompileError{Field: "conversion", Message: "at least one conversion tier is required"}
	}
	active := 0
	seenTier := make(map[string]bool)
	for i, t := range raw.Conversion {
		field := fmt.Sprintf("conversion[%d]", i)
		if t.Name == "" {
			return nil, &CompileError{Field: field + ".name", Message: "name is required"}
		}
		if seenTier[t.Name] {
			return nil, &CompileError{Field: field + ".name", Message: fmt.Sprintf("tier name %q repeats", t.Name)}
		}
		seenTier[t.Name] = true
		if t.Multiplier <= 0 {
			return nil, &CompileError{Field: field + ".multiplier", Message: "must be positive"}
		}
		status := TierStatus(t.Status)
		switch status {
		case StatusClosed, StatusActive, StatusUpcoming:
		default:
			return nil, &CompileError{Field: field + ".status", Message: fmt.Sprintf("unknown status %q", t.Status)}
		}
		if status == StatusActive {
			active++
		}
		cfg.Conversion = append(cfg.Conversion, ConversionTier{
			Name:         t.Name,
			Multiplier:   t.Multiplier,
			ClosingPrice: t.ClosingPrice,
			Status:       status,
		})
	}
	if active != 1 {
		return nil, &CompileError{Field: "conversion", Message: fmt.Sprintf("exactly one tier must be ACTIVE, found %d", active)}
	}

	return cfg, nil
}

func buildPolicy(field string, shares []rawShare) (ledger.DistributionPolicy, error) {
	if len(shares) == 0 {
		return ledger.DistributionPolicy{}, &CompileError{Field: field, Message: "at least one share is required"}
	}
	converted := make([]ledger.Share, len(shares))
	for i, s := range shares {
		converted[i] = ledger.Share{Name: s.Name, Percent: s.Percent}
	}
	p, err := ledger.NewDistributionPolicy(converted...)
	if err != nil {
		return ledger.DistributionPolicy{}, &CompileError{Field: field, Message: err.Error()}
	}
	return p, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, &CompileError{Field: field, Message: "duration is required"}
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &CompileError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)}
	}
	if d <= 0 {
		return 0, &CompileError{Field: field, Message: "duration must be positive"}
	}
	return d, nil
}

// formatCUEError flattens a CUE error list into one readable error.
func formatCUEError(err error) error {
	return fmt.Errorf("config: %s", cueerrors.Details(err, nil))
}
