package ledger

import (
	"fmt"
	"math"
)

// ShareUser is the conventional share name for the portion of a payout
// that belongs to the user. Every other share name is a pool account.
const ShareUser = "user"

// Share is one named slice of a DistributionPolicy.
type Share struct {
	// Name identifies the destination: ShareUser, or a pool account
	// name understood by the balance store ("permafrost", "staking",
	// "warchest").
	Name string

	// Percent is the share of the payout, in [0, 100].
	Percent float64
}

// Allocation is one computed slice of a distributed amount.
type Allocation struct {
	Name   string
	Amount float64
}

// DistributionPolicy splits a payout across named destinations.
//
// The core has several tightly-coupled splitting rules (the 60/25/15
// checkpoint payout, the 50/50 penalty recycle); all of them are
// expressed as one DistributionPolicy value consumed uniformly by
// whichever engine triggers the payout, rather than duplicated
// constants.
//
// Shares must sum to exactly 100 percent - NewDistributionPolicy
// enforces this, so a constructed policy can never leak or mint value.
type DistributionPolicy struct {
	shares []Share
}

// NewDistributionPolicy creates a policy from the given shares.
//
// Returns an error when a share is unnamed, a percentage is out of
// range, a name repeats, or the percentages do not sum to 100.
func NewDistributionPolicy(shares ...Share) (DistributionPolicy, error) {
	if len(shares) == 0 {
		return DistributionPolicy{}, fmt.Errorf("distribution policy requires at least one share")
	}

	sum := 0.0
	seen := make(map[string]bool, len(shares))
	for _, s := range shares {
		if s.Name == "" {
			return DistributionPolicy{}, fmt.Errorf("distribution policy share has no name")
		}
		if seen[s.Name] {
			return DistributionPolicy{}, fmt.Errorf("distribution policy share %q repeats", s.Name)
		}
		seen[s.Name] = true
		if s.Percent < 0 || s.Percent > 100 {
			return DistributionPolicy{}, fmt.Errorf("distribution policy share %q has percent %v outside [0, 100]", s.Name, s.Percent)
		}
		sum += s.Percent
	}
	if math.Abs(sum-100) > 1e-9 {
		return DistributionPolicy{}, fmt.Errorf("distribution policy shares sum to %v, want 100", sum)
	}

	copied := make([]Share, len(shares))
	copy(copied, shares)
	return DistributionPolicy{shares: copied}, nil
}

// MustDistributionPolicy is NewDistributionPolicy that panics on error.
// For use with compile-time constant share tables.
func MustDistributionPolicy(shares ...Share) DistributionPolicy {
	p, err := NewDistributionPolicy(shares...)
	if err != nil {
		panic(err)
	}
	return p
}

// Shares returns the policy's shares in declaration order.
func (p DistributionPolicy) Shares() []Share {
	out := make([]Share, len(p.shares))
	copy(out, p.shares)
	return out
}

// Apply splits amount across the shares in declaration order.
//
// The final share absorbs floating-point rounding, so the returned
// allocations always sum to exactly the input amount.
func (p DistributionPolicy) Apply(amount float64) []Allocation {
	allocs := make([]Allocation, len(p.shares))
	rest := amount
	for i, s := range p.shares {
		var slice float64
		if i == len(p.shares)-1 {
			slice = rest
		} else {
			slice = amount * s.Percent / 100
			rest -= slice
		}
		allocs[i] = Allocation{Name: s.Name, Amount: slice}
	}
	return allocs
}

// Percent returns the percentage of the named share, or 0 when absent.
func (p DistributionPolicy) Percent(name string) float64 {
	for _, s := range p.shares {
		if s.Name == name {
			return s.Percent
		}
	}
	return 0
}
