package vault

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfi/ace/internal/types"
)

func TestDepositSeedsSharesOneToOne(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	shares, err := v.Deposit("alice", sdkmath.NewInt(1_000_000000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000000), shares)

	pool := v.PoolState()
	assert.Equal(t, sdkmath.NewInt(1_000_000000), pool.TotalShares)
	assert.Equal(t, sdkmath.NewInt(1_000_000000), pool.TotalLiquidity)
	assert.True(t, pool.TotalDebt.IsZero())
}

func TestDepositMintsProportionalShares(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	// 100 shares against 200 assets: 100 liquidity plus 100 accrued debt.
	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, v.AccrueDebt(sdkmath.NewInt(100)))

	shares, err := v.Deposit("bob", sdkmath.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(25), shares)
}

func TestDepositRejectsNonPositiveAmounts(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = v.Deposit("alice", sdkmath.NewInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWithdrawReleasesProportionalAssets(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, v.AccrueDebt(sdkmath.NewInt(100)))

	// 25 shares of a 100-share, 200-asset pool are worth 50.
	assets, err := v.Withdraw("alice", sdkmath.NewInt(25))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50), assets)

	assert.Equal(t, sdkmath.NewInt(75), v.SharesOf("alice"))
}

func TestWithdrawRejectsMoreSharesThanHeld(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)

	_, err = v.Withdraw("alice", sdkmath.NewInt(101))
	assert.ErrorIs(t, err, ErrInsufficientShares)

	_, err = v.Withdraw("bob", sdkmath.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestWithdrawCappedByCashOnHand(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, v.LendOut(sdkmath.NewInt(80)))

	// The full claim is worth 100 but only 20 is cash on hand.
	_, err = v.Withdraw("alice", sdkmath.NewInt(100))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	assets, err := v.Withdraw("alice", sdkmath.NewInt(20))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(20), assets)
}

func TestLendOutAndRecoverShiftClaimNotAssets(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(500))
	require.NoError(t, err)

	require.NoError(t, v.LendOut(sdkmath.NewInt(200)))
	pool := v.PoolState()
	assert.Equal(t, sdkmath.NewInt(300), pool.TotalLiquidity)
	assert.Equal(t, sdkmath.NewInt(200), pool.TotalDebt)
	assert.Equal(t, sdkmath.NewInt(500), pool.TotalAssets())

	require.NoError(t, v.Recover(sdkmath.NewInt(200)))
	pool = v.PoolState()
	assert.Equal(t, sdkmath.NewInt(500), pool.TotalLiquidity)
	assert.True(t, pool.TotalDebt.IsZero())
}

func TestLendOutRejectsMoreThanLiquidity(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)

	assert.ErrorIs(t, v.LendOut(sdkmath.NewInt(101)), ErrInsufficientLiquidity)
}

func TestRecoverRejectsMoreThanDebt(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, v.LendOut(sdkmath.NewInt(50)))

	assert.ErrorIs(t, v.Recover(sdkmath.NewInt(51)), ErrInsufficientDebt)

	// Zero recovery is a no-op, not an error.
	assert.NoError(t, v.Recover(sdkmath.ZeroInt()))
}

func TestConservationAcrossOperationSequence(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()
	providers := []types.ProviderID{"alice", "bob", "carol"}

	_, err := v.Deposit("alice", sdkmath.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, v.LendOut(sdkmath.NewInt(400)))
	require.NoError(t, v.AccrueDebt(sdkmath.NewInt(7)))
	_, err = v.Deposit("bob", sdkmath.NewInt(333))
	require.NoError(t, err)
	require.NoError(t, v.Recover(sdkmath.NewInt(150)))
	_, err = v.Withdraw("alice", sdkmath.NewInt(99))
	require.NoError(t, err)
	_, err = v.Deposit("carol", sdkmath.NewInt(58))
	require.NoError(t, err)

	pool := v.PoolState()
	assert.Equal(t, pool.TotalAssets(), pool.TotalLiquidity.Add(pool.TotalDebt))

	total := sdkmath.ZeroInt()
	for _, p := range providers {
		total = total.Add(v.SharesOf(p))
	}
	assert.Equal(t, pool.TotalShares, total)
}

func TestFloorRoundingFavorsPoolOnMint(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(3))
	require.NoError(t, err)
	require.NoError(t, v.AccrueDebt(sdkmath.NewInt(4))) // 3 shares, 7 assets

	// 2 * 3 / 7 = 0.857..., floors to zero shares but the cash stays in.
	shares, err := v.Deposit("bob", sdkmath.NewInt(2))
	require.NoError(t, err)
	assert.True(t, shares.IsZero())

	pool := v.PoolState()
	assert.Equal(t, sdkmath.NewInt(3), pool.TotalShares)
	assert.Equal(t, sdkmath.NewInt(9), pool.TotalAssets())
}

func TestExchangeRateTracksAccruedInterest(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	par, err := v.ExchangeRate()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1, 18), par)

	_, err = v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, v.AccrueDebt(sdkmath.NewInt(100)))

	rate, err := v.ExchangeRate()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(2, 18), rate)
}

func TestFullWithdrawKeepsZeroPosition(t *testing.T) {
	t.Parallel()

	v := NewLiquidityVault()

	_, err := v.Deposit("alice", sdkmath.NewInt(100))
	require.NoError(t, err)
	_, err = v.Withdraw("alice", sdkmath.NewInt(100))
	require.NoError(t, err)

	assert.True(t, v.SharesOf("alice").IsZero())

	// Re-deposit after a full exit seeds the empty pool again.
	shares, err := v.Deposit("alice", sdkmath.NewInt(40))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(40), shares)
}
