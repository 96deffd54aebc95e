package staking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permafrost-labs/glacier/internal/clock"
	"github.com/permafrost-labs/glacier/internal/config"
	"github.com/permafrost-labs/glacier/internal/domain"
	"github.com/permafrost-labs/glacier/internal/ledger"
	"github.com/permafrost-labs/glacier/internal/store"
	"github.com/permafrost-labs/glacier/internal/testutil"
)

func testVaults() []config.VaultTier {
	return []config.VaultTier{
		{ID: "d90", Name: "Quarter Vault", LockDurationDays: 90, APYPercent: 5.5, PenaltyRatePercent: 10},
		{ID: "y1", Name: "Annual Vault", LockDurationDays: 365, APYPercent: 27.5, PenaltyRatePercent: 20},
	}
}

func testRecycle() ledger.DistributionPolicy {
	return ledger.MustDistributionPolicy(
		ledger.Share{Name: store.PoolWarChest, Percent: 50},
		ledger.Share{Name: store.PoolStaking, Percent: 50},
	)
}

func newTestEngine(t *testing.T) (*Engine, *testutil.ManualClock, *store.Store) {
	t.Helper()
	mc := testutil.NewManualClock(testutil.Epoch)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Credit(context.Background(), "alice", 5000))

	eng := New(clock.NewGuard(mc), st, testVaults(), testRecycle(),
		WithTokenGenerator(domain.NewSequenceGenerator("stk")))
	return eng, mc, st
}

func TestStakeLocksPrincipal(t *testing.T) {
	eng, _, st := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "y1", 1000)
	require.NoError(t, err)
	assert.Equal(t, "stk-000001", pos.ID)
	assert.Equal(t, "y1", pos.Pool.ID)
	assert.Equal(t, 1000.0, pos.Principal)
	assert.Equal(t, testutil.Epoch, pos.StartedAt)
	assert.Equal(t, testutil.Epoch.Add(365*24*time.Hour), pos.MaturesAt)
	assert.Zero(t, pos.AccruedYield)
	assert.False(t, pos.Matured)
	assert.InDelta(t, 20.0, pos.PenaltyRate, 1e-9)

	liquid, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 4000, liquid, 1e-9)

	receipts, err := st.ListReceipts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, store.ReceiptStake, receipts[0].Kind)
	assert.Equal(t, pos.ID, receipts[0].Ref)
}

func TestStakeRejectsBadInput(t *testing.T) {
	eng, _, st := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Stake(ctx, "alice", "y1", 0)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidAmount))

	_, err = eng.Stake(ctx, "alice", "y1", -50)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidAmount))

	_, err = eng.Stake(ctx, "alice", "nope", 100)
	assert.True(t, domain.IsCode(err, domain.CodeUnknownPool))

	_, err = eng.Stake(ctx, "alice", "y1", 5001)
	assert.True(t, domain.IsInsufficientBalance(err))

	// Rejections leave the balance untouched.
	liquid, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, liquid)
}

func TestStakeFailureRollsBackDebit(t *testing.T) {
	mc := testutil.NewManualClock(testutil.Epoch)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Credit(ctx, "alice", 1000))

	// The second stake reuses the first position id and fails on the
	// primary-key conflict inside the settlement transaction.
	eng := New(clock.NewGuard(mc), st, testVaults(), testRecycle(),
		WithTokenGenerator(domain.NewFixedGenerator("p1", "r1", "p1", "r2")))

	_, err = eng.Stake(ctx, "alice", "y1", 100)
	require.NoError(t, err)

	_, err = eng.Stake(ctx, "alice", "y1", 100)
	require.Error(t, err)

	// The failed stake's debit rolled back with the insert.
	liquid, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 900.0, liquid)

	receipts, err := st.ListReceipts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func TestQuoteAccruesSimpleInterest(t *testing.T) {
	eng, mc, _ := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "y1", 1000)
	require.NoError(t, err)

	mc.Advance(45 * 24 * time.Hour)
	quote, err := eng.Quote(ctx, pos.ID)
	require.NoError(t, err)

	// 1000 at 27.5% simple interest for 45 of 365 days.
	assert.InDelta(t, 33.904109589041096, quote.AccruedYield, 1e-9)
	assert.InDelta(t, 17.534246575342465, quote.PenaltyRate, 1e-9)
	assert.InDelta(t, 175.34246575342465, quote.Penalty, 1e-9)
	assert.InDelta(t, 858.5616438356165, quote.NetPayout, 1e-9)
	assert.False(t, quote.Matured)

	// The quote is a pure read.
	again, err := eng.Quote(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, quote, again)
}

func TestQuotePayoutIdentity(t *testing.T) {
	eng, mc, _ := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "d90", 1234.56)
	require.NoError(t, err)

	for _, d := range []time.Duration{0, 24 * time.Hour, 45 * 24 * time.Hour, 89 * 24 * time.Hour} {
		mc.Set(testutil.Epoch.Add(d))
		quote, err := eng.Quote(ctx, pos.ID)
		require.NoError(t, err)
		assert.InDelta(t, quote.Principal+quote.AccruedYield,
			quote.NetPayout+quote.Penalty, 1e-9, d.String())
	}
}

func TestPenaltyDecaysToZeroAtMaturity(t *testing.T) {
	eng, mc, _ := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "d90", 1000)
	require.NoError(t, err)

	mc.Advance(45 * 24 * time.Hour)
	half, err := eng.Quote(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, half.PenaltyRate, 1e-9)

	mc.Set(testutil.Epoch.Add(90 * 24 * time.Hour))
	matured, err := eng.Quote(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, matured.Matured)
	assert.Zero(t, matured.PenaltyRate)
	assert.Zero(t, matured.Penalty)

	// The penalty never goes negative past maturity.
	mc.Advance(400 * 24 * time.Hour)
	late, err := eng.Quote(ctx, pos.ID)
	require.NoError(t, err)
	assert.Zero(t, late.Penalty)
	assert.True(t, late.Matured)
}

func TestUnstakeEarlyRecyclesPenalty(t *testing.T) {
	eng, mc, st := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "y1", 1000)
	require.NoError(t, err)

	mc.Advance(45 * 24 * time.Hour)
	res, err := eng.Unstake(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 858.5616438356165, res.Position.NetPayout, 1e-9)

	liquid, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 4000+858.5616438356165, liquid, 1e-9)

	// The forfeited amount is recycled, not destroyed.
	warchest, err := st.PoolBalance(ctx, store.PoolWarChest)
	require.NoError(t, err)
	staking, err := st.PoolBalance(ctx, store.PoolStaking)
	require.NoError(t, err)
	assert.InDelta(t, res.Position.Penalty/2, warchest, 1e-9)
	assert.InDelta(t, res.Position.Penalty, warchest+staking, 1e-12)

	receipts, err := st.ListReceipts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	assert.Equal(t, store.ReceiptStake, receipts[0].Kind)
	assert.Equal(t, store.ReceiptPenalty, receipts[1].Kind)
	assert.Equal(t, store.ReceiptUnstake, receipts[2].Kind)
}

func TestUnstakeAtMaturityPaysFullYield(t *testing.T) {
	eng, mc, st := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "y1", 1000)
	require.NoError(t, err)

	mc.Advance(365 * 24 * time.Hour)
	res, err := eng.Unstake(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, res.Position.Matured)
	assert.Zero(t, res.Position.Penalty)
	assert.InDelta(t, 1275.0, res.Position.NetPayout, 1e-9)

	// No penalty, no penalty receipt.
	receipts, err := st.ListReceipts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, store.ReceiptUnstake, receipts[1].Kind)

	warchest, err := st.PoolBalance(ctx, store.PoolWarChest)
	require.NoError(t, err)
	assert.Zero(t, warchest)
}

func TestUnstakeIsAtMostOnce(t *testing.T) {
	eng, mc, st := newTestEngine(t)
	ctx := context.Background()

	pos, err := eng.Stake(ctx, "alice", "d90", 1000)
	require.NoError(t, err)

	mc.Advance(90 * 24 * time.Hour)
	_, err = eng.Unstake(ctx, pos.ID)
	require.NoError(t, err)

	before, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)

	_, err = eng.Unstake(ctx, pos.ID)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyClosed))

	_, err = eng.Quote(ctx, pos.ID)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyClosed))

	after, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnstakeFailureKeepsPositionOpen(t *testing.T) {
	mc := testutil.NewManualClock(testutil.Epoch)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Credit(ctx, "alice", 1000))

	// The first unstake's penalty receipt token collides with the
	// stake receipt, failing the settlement after the close statement.
	eng := New(clock.NewGuard(mc), st, testVaults(), testRecycle(),
		WithTokenGenerator(domain.NewFixedGenerator("p1", "r1", "r1", "pen", "pay")))

	_, err = eng.Stake(ctx, "alice", "y1", 1000)
	require.NoError(t, err)

	mc.Advance(45 * 24 * time.Hour)
	_, err = eng.Unstake(ctx, "p1")
	require.Error(t, err)
	assert.False(t, domain.IsCode(err, domain.CodeAlreadyClosed))

	// The close rolled back with the rest: the position is still open
	// and nothing was paid out or recycled.
	_, err = eng.Quote(ctx, "p1")
	require.NoError(t, err)

	liquid, err := st.LiquidBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, liquid)
	warchest, err := st.PoolBalance(ctx, store.PoolWarChest)
	require.NoError(t, err)
	assert.Zero(t, warchest)

	// A retry settles normally.
	res, err := eng.Unstake(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 858.5616438356165, res.Position.NetPayout, 1e-9)
}

func TestUnknownStake(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Quote(ctx, "missing")
	assert.True(t, domain.IsCode(err, domain.CodeUnknownStake))

	_, err = eng.Unstake(ctx, "missing")
	assert.True(t, domain.IsCode(err, domain.CodeUnknownStake))
}

func TestPositionsListsOpenOnly(t *testing.T) {
	eng, mc, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Stake(ctx, "alice", "d90", 100)
	require.NoError(t, err)
	second, err := eng.Stake(ctx, "alice", "y1", 200)
	require.NoError(t, err)

	mc.Advance(10 * 24 * time.Hour)
	_, err = eng.Unstake(ctx, first.ID)
	require.NoError(t, err)

	open, err := eng.Positions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
	assert.InDelta(t, ledger.Yield(200, 27.5, 10*24*time.Hour), open[0].AccruedYield, 1e-12)

	none, err := eng.Positions(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPoolsReturnsCopy(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	pools := eng.Pools()
	require.Len(t, pools, 2)
	pools[0].APYPercent = 999

	assert.Equal(t, 5.5, eng.Pools()[0].APYPercent)
}
