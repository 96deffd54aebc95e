package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig is a complete configuration with development timings: no
// house-ad toll, a single checkpoint per session, and the speed check
// suppressed.
const fastConfig = `
session: {
	required_house_ads:   0
	required_checkpoints: 1

	loop_duration: "1ms"
	ad_duration:   "1ms"
	resume_buffer: "1ms"

	min_loop_time:     "1ms"
	min_house_ad_time: "1ms"

	yield_per_checkpoint: 0.012

	allow_fast_checkpoints: true

	payout: [
		{name: "user", percent: 60},
		{name: "permafrost", percent: 25},
		{name: "staking", percent: 15},
	]
}

staking: recycle: [
	{name: "warchest", percent: 50},
	{name: "staking", percent: 50},
]

loyalty_bonus: 1.15

vaults: [
	{id: "pool_1y", name: "1 YEAR VAULT", lock_duration_days: 365, apy_percent: 27.5, penalty_rate_percent: 20},
]

conversion: [
	{name: "DIAMOND", multiplier: 2.5, closing_price: 0.12, status: "ACTIVE"},
]
`

func writeFastConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fast.cue")
	require.NoError(t, os.WriteFile(path, []byte(fastConfig), 0o644))
	return path
}

// TestMineStakeConvertFlow drives a full user journey through separate
// CLI invocations sharing one database file.
func TestMineStakeConvertFlow(t *testing.T) {
	db := testDB(t)
	cfg := writeFastConfig(t)
	base := []string{"--db", db, "--config", cfg, "-u", "alice"}

	run := func(args ...string) string {
		t.Helper()
		out, err := execute(t, append(append([]string{}, base...), args...)...)
		require.NoError(t, err, out)
		return out
	}

	out := run("session", "start")
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, "ACTIVE_LOOP")

	out = run("session", "checkpoint")
	assert.Contains(t, out, "session complete")

	out = run("balance")
	assert.Contains(t, out, "liquid: 0.007200")

	// The session is gone; a new start opens a fresh one.
	out = run("session", "start")
	assert.Contains(t, out, "session started")
	run("session", "abandon")

	out = run("stake", "open", "pool_1y", "0.005")
	assert.Contains(t, out, "position")
	matches := regexp.MustCompile(`position (\S+) opened`).FindStringSubmatch(out)
	require.Len(t, matches, 2)
	stakeID := matches[1]

	out = run("stake", "list")
	assert.Contains(t, out, stakeID)

	out = run("stake", "quote", stakeID)
	assert.Contains(t, out, "principal: 0.005000")

	out = run("stake", "close", stakeID)
	assert.Contains(t, out, "settled")
	assert.Contains(t, out, "forfeited")

	out = run("convert", "0.002", "--tier", "DIAMOND")
	assert.Contains(t, out, "0.005000 locked")

	out = run("receipts")
	assert.Contains(t, out, "checkpoint")
	assert.Contains(t, out, "session_complete")
	assert.Contains(t, out, "stake")
	assert.Contains(t, out, "unstake")
	assert.Contains(t, out, "penalty")
	assert.Contains(t, out, "convert")
}

func TestSessionSpeedLimitExitCode(t *testing.T) {
	db := testDB(t)
	base := []string{"--db", db, "-u", "alice"}

	out, err := execute(t, append(base, "session", "start")...)
	require.NoError(t, err, out)

	// The default config requires two house ads with a 3s floor; an
	// immediate completion report is rejected.
	out, err = execute(t, append(base, "session", "house-ad")...)
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.Contains(t, out, "SPEED_LIMIT_EXCEEDED")
}

func TestSessionCommandsWithoutSession(t *testing.T) {
	db := testDB(t)
	out, err := execute(t, "--db", db, "-u", "alice", "session", "checkpoint")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.Contains(t, out, "INVALID_SESSION")
}

func TestJSONOutput(t *testing.T) {
	db := testDB(t)
	cfg := writeFastConfig(t)

	out, err := execute(t, "--db", db, "--config", cfg, "-u", "alice",
		"--format", "json", "session", "start")
	require.NoError(t, err, out)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ACTIVE_LOOP", data["state"])
	assert.Equal(t, "alice", data["user"])
}

func TestJSONRejection(t *testing.T) {
	db := testDB(t)
	out, err := execute(t, "--db", db, "-u", "alice", "--format", "json",
		"convert", "100")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Error.Code)
}
