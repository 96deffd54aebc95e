package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios drive the three engines through a flow of operations and
// assert on the resulting receipts and balances.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed
	// by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Settings overrides engine tunables for this run. Unset fields
	// keep the compiled defaults.
	Settings *Settings `yaml:"settings,omitempty"`

	// Users seeds initial balances before the flow runs.
	Users map[string]UserSeed `yaml:"users,omitempty"`

	// Flow contains the operations to execute, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// Settings are the per-scenario engine overrides.
type Settings struct {
	RequiredHouseAds     *int   `yaml:"required_house_ads,omitempty"`
	RequiredCheckpoints  *int   `yaml:"required_checkpoints,omitempty"`
	MinLoopTime          string `yaml:"min_loop_time,omitempty"`
	MinHouseAdTime       string `yaml:"min_house_ad_time,omitempty"`
	AdDuration           string `yaml:"ad_duration,omitempty"`
	AllowFastCheckpoints *bool  `yaml:"allow_fast_checkpoints,omitempty"`
}

// UserSeed is the initial state of one user.
type UserSeed struct {
	Liquid float64 `yaml:"liquid,omitempty"`
	Legacy bool    `yaml:"legacy,omitempty"`
}

// Step is one operation in the flow.
type Step struct {
	// Op is the operation name, e.g. "session.checkpoint" or
	// "stake.open". See the op constants for the full set.
	Op string `yaml:"op"`

	// User is the acting user id.
	User string `yaml:"user"`

	// Advance moves the harness clock forward by the given duration
	// before the operation executes.
	Advance string `yaml:"advance,omitempty"`

	// Amount is the operation amount (stake.open, convert).
	Amount float64 `yaml:"amount,omitempty"`

	// Pool is the vault pool id (stake.open).
	Pool string `yaml:"pool,omitempty"`

	// Tier pins a conversion to the named tier (convert).
	Tier string `yaml:"tier,omitempty"`

	// Save stores the created position id under a label (stake.open).
	Save string `yaml:"save,omitempty"`

	// Stake references a previously saved position label
	// (stake.quote, stake.close).
	Stake string `yaml:"stake,omitempty"`

	// Expect validates the outcome. Nil means the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected rejection code, e.g.
	// "SPEED_LIMIT_EXCEEDED". Empty means success is expected.
	Error string `yaml:"error,omitempty"`
}

// Operation names accepted in Step.Op.
const (
	OpSessionStart       = "session.start"
	OpSessionHouseAd     = "session.house_ad"
	OpSessionAdBreak     = "session.ad_break"
	OpSessionFinishAd    = "session.finish_ad"
	OpSessionAcknowledge = "session.acknowledge"
	OpSessionCheckpoint  = "session.checkpoint"
	OpSessionComplete    = "session.complete"
	OpSessionAbandon     = "session.abandon"
	OpStakeOpen          = "stake.open"
	OpStakeQuote         = "stake.quote"
	OpStakeClose         = "stake.close"
	OpConvert            = "convert"
)

var knownOps = map[string]bool{
	OpSessionStart:       true,
	OpSessionHouseAd:     true,
	OpSessionAdBreak:     true,
	OpSessionFinishAd:    true,
	OpSessionAcknowledge: true,
	OpSessionCheckpoint:  true,
	OpSessionComplete:    true,
	OpSessionAbandon:     true,
	OpStakeOpen:          true,
	OpStakeQuote:         true,
	OpStakeClose:         true,
	OpConvert:            true,
}

// Assertion validates final state after the flow completes.
type Assertion struct {
	// Type selects the assertion:
	//   - "liquid_balance": user's liquid balance equals Expect
	//   - "locked_balance": user's locked balance equals Expect
	//   - "pool_balance": pool account equals Expect
	//   - "receipt_count": user has Count receipts of Kind
	//   - "receipt_order": user's receipt kinds equal Kinds, in order
	//   - "open_positions": user has Count open positions
	Type string `yaml:"type"`

	// User scopes the assertion to one user id.
	User string `yaml:"user,omitempty"`

	// Pool is the pool account name (pool_balance).
	Pool string `yaml:"pool,omitempty"`

	// Kind filters receipts by kind (receipt_count).
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected receipt kind sequence (receipt_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of matches.
	Count int `yaml:"count,omitempty"`

	// Expect is the expected balance. Compared within a small epsilon.
	Expect float64 `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertLiquidBalance = "liquid_balance"
	AssertLockedBalance = "locked_balance"
	AssertPoolBalance   = "pool_balance"
	AssertReceiptCount  = "receipt_count"
	AssertReceiptOrder  = "receipt_order"
	AssertOpenPositions = "open_positions"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so a typo fails loudly instead of
// silently weakening the scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if s.Settings != nil {
		for field, value := range map[string]string{
			"min_loop_time":     s.Settings.MinLoopTime,
			"min_house_ad_time": s.Settings.MinHouseAdTime,
			"ad_duration":       s.Settings.AdDuration,
		} {
			if value == "" {
				continue
			}
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("settings.%s: %w", field, err)
			}
		}
	}

	saved := map[string]bool{}
	for i, step := range s.Flow {
		if err := validateStep(i, &step, saved); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, saved map[string]bool) error {
	if !knownOps[step.Op] {
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}
	if step.User == "" {
		return fmt.Errorf("flow[%d]: user is required", index)
	}
	if step.Advance != "" {
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("flow[%d]: advance: %w", index, err)
		}
	}

	switch step.Op {
	case OpStakeOpen:
		if step.Pool == "" {
			return fmt.Errorf("flow[%d]: pool is required for %s", index, step.Op)
		}
		if step.Save != "" {
			saved[step.Save] = true
		}
	case OpStakeQuote, OpStakeClose:
		if step.Stake == "" {
			return fmt.Errorf("flow[%d]: stake is required for %s", index, step.Op)
		}
		if !saved[step.Stake] {
			return fmt.Errorf("flow[%d]: stake label %q is never saved by an earlier step", index, step.Stake)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertLiquidBalance, AssertLockedBalance:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for %s", index, a.Type)
		}
	case AssertPoolBalance:
		if a.Pool == "" {
			return fmt.Errorf("assertions[%d]: pool is required for pool_balance", index)
		}
	case AssertReceiptCount:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for receipt_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertReceiptOrder:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for receipt_order", index)
		}
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for receipt_order", index)
		}
	case AssertOpenPositions:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for open_positions", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
