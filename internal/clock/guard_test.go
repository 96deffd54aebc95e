package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/permafrost-labs/glacier/internal/testutil"
)

func TestGuard_ElapsedSince(t *testing.T) {
	mc := testutil.NewManualClock(testutil.Epoch)
	g := NewGuard(mc)

	start := mc.Now()
	mc.Advance(175 * time.Second)

	assert.Equal(t, 175*time.Second, g.ElapsedSince(start))
}

func TestGuard_ElapsedSince_FutureTimestampClampsToZero(t *testing.T) {
	mc := testutil.NewManualClock(testutil.Epoch)
	g := NewGuard(mc)

	future := mc.Now().Add(time.Hour)
	assert.Equal(t, time.Duration(0), g.ElapsedSince(future))
}

func TestGuard_TooFast(t *testing.T) {
	g := NewGuard(NewSystem())

	assert.True(t, g.TooFast(time.Second, 175*time.Second))
	assert.True(t, g.TooFast(174*time.Second, 175*time.Second))
	assert.False(t, g.TooFast(175*time.Second, 175*time.Second))
	assert.False(t, g.TooFast(3*time.Minute, 175*time.Second))
}

func TestGuard_Check(t *testing.T) {
	mc := testutil.NewManualClock(testutil.Epoch)
	g := NewGuard(mc)

	start := mc.Now()

	mc.Advance(time.Second)
	elapsed, ok := g.Check(start, 175*time.Second)
	assert.Equal(t, time.Second, elapsed)
	assert.False(t, ok)

	mc.Advance(174 * time.Second)
	elapsed, ok = g.Check(start, 175*time.Second)
	assert.Equal(t, 175*time.Second, elapsed)
	assert.True(t, ok)
}

// Check is a pure read: repeated calls with a frozen clock return
// identical results.
func TestGuard_CheckIdempotent(t *testing.T) {
	mc := testutil.NewManualClock(testutil.Epoch)
	g := NewGuard(mc)

	start := mc.Now()
	mc.Advance(90 * time.Second)

	e1, ok1 := g.Check(start, time.Minute)
	e2, ok2 := g.Check(start, time.Minute)
	assert.Equal(t, e1, e2)
	assert.Equal(t, ok1, ok2)
}
