// Package clock provides the trusted time source and the fraud guard.
//
// Every "did enough real time pass" decision in the core routes through
// this package. Engines never accept caller-supplied elapsed values:
// the presentation layer's countdowns are display state, not evidence.
package clock

import "time"

// Clock is a trusted time source.
//
// Implemented by System (production) and testutil.ManualClock (tests).
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// System reads the process clock.
//
// time.Now carries a monotonic reading, so durations derived from two
// System reads are immune to wall-clock adjustments.
//
// Thread-safety: System is stateless and safe for concurrent use.
type System struct{}

// NewSystem creates a system clock.
func NewSystem() System {
	return System{}
}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}
