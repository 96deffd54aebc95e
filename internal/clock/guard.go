package clock

import "time"

// Guard is the sole authority for elapsed-time checks.
//
// It answers "has at least duration D elapsed since timestamp T" using
// the wrapped trusted clock. Every engine in the core must route its
// timing checks through a Guard rather than trusting a caller-reported
// elapsed value.
//
// Guard has no side effects - all methods are pure reads of the clock.
//
// Thread-safety: Guard is safe for concurrent use as long as the
// wrapped Clock is.
type Guard struct {
	clock Clock
}

// NewGuard creates a guard over the given trusted clock.
func NewGuard(c Clock) *Guard {
	return &Guard{clock: c}
}

// Now returns the guard's current time.
//
// Engines stamp records (startedAt, lastCheckpointAt, withdrawnAt)
// with this value, never with a client-supplied timestamp.
func (g *Guard) Now() time.Time {
	return g.clock.Now()
}

// ElapsedSince returns the time elapsed since t.
//
// A timestamp in the future (clock skew on a restored record) yields 0
// rather than a negative duration, so downstream comparisons treat it
// as "no time has passed".
func (g *Guard) ElapsedSince(t time.Time) time.Duration {
	elapsed := g.clock.Now().Sub(t)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// TooFast reports whether elapsed falls short of the required minimum.
func (g *Guard) TooFast(elapsed, minimum time.Duration) bool {
	return elapsed < minimum
}

// Check is the one-shot form used by the engines: it measures the time
// elapsed since t and reports whether at least minimum has passed.
func (g *Guard) Check(t time.Time, minimum time.Duration) (elapsed time.Duration, ok bool) {
	elapsed = g.ElapsedSince(t)
	return elapsed, !g.TooFast(elapsed, minimum)
}
