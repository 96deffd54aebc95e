package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed starting instant for deterministic tests.
//
// Scenario golden files depend on every run starting from the same
// instant, so tests should construct their ManualClock from this value.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a settable wall clock for tests.
//
// Unlike clock.System, ManualClock only moves when told to. This lets
// tests express "45 days pass" without sleeping and makes every timing
// decision in the engines reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current instant without advancing it.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
//
// A negative d panics: no test has a legitimate reason to move the
// trusted clock backwards.
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("ManualClock: cannot advance by a negative duration")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to a specific instant.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
