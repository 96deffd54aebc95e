package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenariosGolden runs every scenario under testdata/scenarios and
// pins its trace against the golden files.
func TestScenariosGolden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			RunWithGolden(t, scenario)
		})
	}
}

func intp(v int) *int { return &v }

func TestRunDetectsUnexpectedRejection(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected-rejection",
		Description: "checkpoint without a session must be flagged",
		Flow: []Step{
			{Op: OpSessionCheckpoint, User: "alice"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "INVALID_SESSION")

	require.Len(t, result.Trace, 1)
	assert.Equal(t, "INVALID_SESSION", result.Trace[0].Error)
}

func TestRunDetectsMissingRejection(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing-rejection",
		Description: "a step expecting a rejection that succeeds must fail",
		Users:       map[string]UserSeed{"alice": {Liquid: 100}},
		Flow: []Step{
			{Op: OpConvert, User: "alice", Amount: 50,
				Expect: &ExpectClause{Error: "INSUFFICIENT_BALANCE"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected rejection INSUFFICIENT_BALANCE, got success")
}

func TestRunDetectsFailedAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "failed-assertion",
		Description: "a wrong expected balance must fail",
		Users:       map[string]UserSeed{"alice": {Liquid: 100}},
		Flow: []Step{
			{Op: OpConvert, User: "alice", Amount: 100},
		},
		Assertions: []Assertion{
			{Type: AssertLockedBalance, User: "alice", Expect: 123},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "locked_balance")
}

func TestRunAppliesSettingsOverrides(t *testing.T) {
	scenario := &Scenario{
		Name:        "settings-override",
		Description: "fast checkpoints allowed and short session",
		Settings: &Settings{
			RequiredHouseAds:     intp(0),
			RequiredCheckpoints:  intp(1),
			AllowFastCheckpoints: boolp(true),
		},
		Users: map[string]UserSeed{"alice": {}},
		Flow: []Step{
			{Op: OpSessionStart, User: "alice"},
			{Op: OpSessionCheckpoint, User: "alice"},
		},
		Assertions: []Assertion{
			{Type: AssertReceiptCount, User: "alice", Kind: "session_complete", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), result.Errors)
	require.Len(t, result.Trace, 2)
	assert.True(t, result.Trace[1].Completed)
}

func boolp(v bool) *bool { return &v }

func TestRunIsReproducible(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "staking-early-exit.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.True(t, first.Passed(), first.Errors)
}
