package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkpointPolicy(t *testing.T) DistributionPolicy {
	t.Helper()
	p, err := NewDistributionPolicy(
		Share{Name: ShareUser, Percent: 60},
		Share{Name: "permafrost", Percent: 25},
		Share{Name: "staking", Percent: 15},
	)
	require.NoError(t, err)
	return p
}

func TestDistributionPolicy_Apply(t *testing.T) {
	p := checkpointPolicy(t)

	allocs := p.Apply(100)
	require.Len(t, allocs, 3)
	assert.Equal(t, Allocation{Name: "user", Amount: 60}, allocs[0])
	assert.Equal(t, Allocation{Name: "permafrost", Amount: 25}, allocs[1])
	assert.Equal(t, Allocation{Name: "staking", Amount: 15}, allocs[2])
}

// The final share absorbs rounding: allocations sum to exactly the
// input for amounts with no exact binary representation.
func TestDistributionPolicy_ApplySumsExactly(t *testing.T) {
	p := checkpointPolicy(t)

	for _, amount := range []float64{0.012, 0.1, 1.0 / 3.0, 12345.6789} {
		allocs := p.Apply(amount)
		sum := 0.0
		for _, a := range allocs {
			sum += a.Amount
		}
		assert.Equal(t, amount, sum, "allocations for %v must sum exactly", amount)
	}
}

func TestDistributionPolicy_RejectsBadSum(t *testing.T) {
	_, err := NewDistributionPolicy(
		Share{Name: "user", Percent: 60},
		Share{Name: "permafrost", Percent: 25},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum")
}

func TestDistributionPolicy_RejectsDuplicateName(t *testing.T) {
	_, err := NewDistributionPolicy(
		Share{Name: "user", Percent: 50},
		Share{Name: "user", Percent: 50},
	)
	assert.Error(t, err)
}

func TestDistributionPolicy_RejectsOutOfRange(t *testing.T) {
	_, err := NewDistributionPolicy(
		Share{Name: "user", Percent: 150},
		Share{Name: "pool", Percent: -50},
	)
	assert.Error(t, err)
}

func TestDistributionPolicy_RejectsEmpty(t *testing.T) {
	_, err := NewDistributionPolicy()
	assert.Error(t, err)
}

func TestDistributionPolicy_Percent(t *testing.T) {
	p := checkpointPolicy(t)
	assert.Equal(t, 60.0, p.Percent("user"))
	assert.Equal(t, 0.0, p.Percent("treasury"))
}

func TestMustDistributionPolicy_PanicsOnBadPolicy(t *testing.T) {
	assert.Panics(t, func() {
		MustDistributionPolicy(Share{Name: "user", Percent: 99})
	})
}
