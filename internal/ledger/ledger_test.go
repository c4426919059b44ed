package ledger

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfi/ace/internal/types"
	"github.com/agentfi/ace/internal/vault"
)

const (
	testRateBP   = 10 // 0.1% per interval
	testInterval = time.Hour
)

// testClock is a controllable time source for accrual tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLedger(t *testing.T) (*CreditLedger, *vault.LiquidityVault, *testClock) {
	t.Helper()

	v := vault.NewLiquidityVault()
	_, err := v.Deposit("provider", sdkmath.NewInt(1_000_000000))
	require.NoError(t, err)

	l := NewCreditLedger(v, testRateBP, testInterval)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l.SetClock(clock.Now)
	return l, v, clock
}

func TestOnboardCreatesActiveAccount(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLedger(t)

	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))

	acct, ok := l.Account("agent-1")
	require.True(t, ok)
	assert.True(t, acct.Active)
	assert.False(t, acct.Frozen)
	assert.True(t, acct.Principal.IsZero())
	assert.True(t, acct.Debt.IsZero())
	assert.Equal(t, sdkmath.NewInt(100_000000), acct.CreditLimit)
}

func TestOnboardRejectsActiveDuplicate(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLedger(t)

	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	assert.ErrorIs(t, l.Onboard("agent-1", sdkmath.NewInt(200_000000)), ErrAlreadyOnboarded)
}

func TestBorrowChecksLimitAgainstPrincipal(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(50_000000)))

	// One micro-unit over the limit is rejected; exactly at the limit passes.
	assert.ErrorIs(t, l.Borrow("agent-1", sdkmath.NewInt(50_000001)), ErrExceedsLimit)
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Principal)
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Debt)
}

func TestBorrowMovesVaultLiquidityIntoDebt(t *testing.T) {
	t.Parallel()

	l, v, _ := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(60_000000)))

	pool := v.PoolState()
	assert.Equal(t, sdkmath.NewInt(940_000000), pool.TotalLiquidity)
	assert.Equal(t, sdkmath.NewInt(60_000000), pool.TotalDebt)
	assert.Equal(t, sdkmath.NewInt(1_000_000000), pool.TotalAssets())
}

func TestBorrowRequiresActiveUnfrozenAccount(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLedger(t)

	assert.ErrorIs(t, l.Borrow("unknown", sdkmath.NewInt(1)), ErrNotActive)

	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Freeze("agent-1"))
	assert.ErrorIs(t, l.Borrow("agent-1", sdkmath.NewInt(1)), ErrFrozen)

	require.NoError(t, l.Unfreeze("agent-1"))
	assert.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(1)))
}

func TestAccrualQuantizesToWholeIntervals(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	// 1h59m elapsed is exactly one whole interval.
	clock.Advance(time.Hour + 59*time.Minute)
	require.NoError(t, l.Accrue("agent-1"))

	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_050000), acct.Debt)
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Principal)

	// The watermark advanced by one interval, not to now: one more minute
	// completes the banked second interval.
	clock.Advance(time.Minute)
	require.NoError(t, l.Accrue("agent-1"))

	acct, _ = l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_100050), acct.Debt)
}

func TestAccrualBelowOneIntervalIsNoOp(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	clock.Advance(59 * time.Minute)
	require.NoError(t, l.Accrue("agent-1"))

	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Debt)
}

func TestAccrualCompoundsAcrossCalls(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	clock.Advance(time.Hour)
	require.NoError(t, l.Accrue("agent-1"))
	clock.Advance(time.Hour)
	require.NoError(t, l.Accrue("agent-1"))

	// The second accrual runs on 50_050000, not on the original 50_000000.
	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_100050), acct.Debt)
}

func TestAccrualWithZeroDebtOnlyAdvancesWatermark(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))

	// A long debt-free gap must not turn into interest once debt exists.
	clock.Advance(48 * time.Hour)
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Debt)

	clock.Advance(time.Hour)
	require.NoError(t, l.Accrue("agent-1"))
	acct, _ = l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_050000), acct.Debt)
}

func TestRepayInterestFirst(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	clock.Advance(time.Hour)
	require.NoError(t, l.Accrue("agent-1"))

	// Debt 50_050000, principal 50_000000, interest owed 50_000. A payment
	// within the interest portion leaves principal untouched.
	applied, err := l.Repay("agent-1", sdkmath.NewInt(30_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(30_000), applied)

	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Principal)
	assert.Equal(t, sdkmath.NewInt(50_020000), acct.Debt)

	// Paying past the remaining 20_000 of interest reduces principal by the
	// excess only.
	applied, err = l.Repay("agent-1", sdkmath.NewInt(100_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100_000), applied)

	acct, _ = l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(49_920000), acct.Principal)
	assert.Equal(t, sdkmath.NewInt(49_920000), acct.Debt)
}

func TestRepayClampsOverpayment(t *testing.T) {
	t.Parallel()

	l, v, _ := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	applied, err := l.Repay("agent-1", sdkmath.NewInt(999_000000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50_000000), applied)

	acct, _ := l.Account("agent-1")
	assert.True(t, acct.Principal.IsZero())
	assert.True(t, acct.Debt.IsZero())

	pool := v.PoolState()
	assert.True(t, pool.TotalDebt.IsZero())
	assert.Equal(t, sdkmath.NewInt(1_000_000000), pool.TotalLiquidity)
}

func TestRepayAllowedWhileFrozen(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))
	require.NoError(t, l.Freeze("agent-1"))

	applied, err := l.Repay("agent-1", sdkmath.NewInt(10_000000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(10_000000), applied)
}

func TestAvailableCreditReflectsStateFlags(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLedger(t)

	assert.True(t, l.AvailableCredit("unknown").IsZero())

	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(40_000000)))
	assert.Equal(t, sdkmath.NewInt(60_000000), l.AvailableCredit("agent-1"))

	require.NoError(t, l.Freeze("agent-1"))
	assert.True(t, l.AvailableCredit("agent-1").IsZero())

	require.NoError(t, l.Unfreeze("agent-1"))
	assert.Equal(t, sdkmath.NewInt(60_000000), l.AvailableCredit("agent-1"))
}

func TestInterestRepaymentDoesNotRestoreBorrowingPower(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(50_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	clock.Advance(time.Hour)
	require.NoError(t, l.Accrue("agent-1"))

	// Repaying only interest leaves principal at the limit.
	_, err := l.Repay("agent-1", sdkmath.NewInt(50_000))
	require.NoError(t, err)

	assert.True(t, l.AvailableCredit("agent-1").IsZero())
	assert.ErrorIs(t, l.Borrow("agent-1", sdkmath.NewInt(1)), ErrExceedsLimit)
}

func TestProjectDebtDoesNotMutate(t *testing.T) {
	t.Parallel()

	l, _, clock := newTestLedger(t)
	require.NoError(t, l.Onboard("agent-1", sdkmath.NewInt(100_000000)))
	require.NoError(t, l.Borrow("agent-1", sdkmath.NewInt(50_000000)))

	clock.Advance(time.Hour)

	projected, err := l.ProjectDebt("agent-1")
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50_050000), projected)

	// Stored state is untouched by the projection.
	acct, _ := l.Account("agent-1")
	assert.Equal(t, sdkmath.NewInt(50_000000), acct.Debt)
}

func TestProjectDebtPureFunction(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := types.AgentAccount{
		ID:          "agent-1",
		Principal:   sdkmath.NewInt(50_000000),
		Debt:        sdkmath.NewInt(50_000000),
		CreditLimit: sdkmath.NewInt(100_000000),
		LastAccrued: base,
		Active:      true,
	}

	assert.Equal(t, sdkmath.NewInt(50_000000),
		ProjectDebt(acct, testRateBP, testInterval, base.Add(59*time.Minute)))
	assert.Equal(t, sdkmath.NewInt(50_050000),
		ProjectDebt(acct, testRateBP, testInterval, base.Add(90*time.Minute)))
	assert.Equal(t, sdkmath.NewInt(50_100000),
		ProjectDebt(acct, testRateBP, testInterval, base.Add(2*time.Hour)))
}
