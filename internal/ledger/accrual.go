// Package ledger provides the pure accrual arithmetic shared by the
// session, staking and conversion engines.
//
// Nothing in this package holds state. Yield is recomputed from elapsed
// time on every read, which is what lets the staking engine avoid a
// mutable "rewards accrued" field: the same inputs always produce the
// same output, so a quote is idempotent by construction.
package ledger

import "time"

// Year is the accrual year used by the simple-interest formula.
const Year = 365 * 24 * time.Hour

// Yield computes simple (non-compounding) interest.
//
//	yield = principal * apyPercent/100 * elapsed/Year
//
// Interest is proportional to the elapsed fraction of a year. Negative
// or zero inputs yield 0; elapsed never runs backwards because callers
// obtain it from the fraud guard.
func Yield(principal, apyPercent float64, elapsed time.Duration) float64 {
	if principal <= 0 || apyPercent <= 0 || elapsed <= 0 {
		return 0
	}
	rate := apyPercent / 100
	timeFraction := float64(elapsed) / float64(Year)
	return principal * rate * timeFraction
}
