package backend

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfi/ace/internal/ledger"
	"github.com/agentfi/ace/internal/vault"
)

func newLocal() *Local {
	v := vault.NewLiquidityVault()
	return NewLocal(v, ledger.NewCreditLedger(v, 10, time.Hour))
}

func TestLocalReceiptsAreSequenced(t *testing.T) {
	t.Parallel()

	b := newLocal()
	ctx := context.Background()

	r1, _, err := b.Deposit(ctx, "lp", sdkmath.NewInt(100))
	require.NoError(t, err)
	r2, err := b.OnboardAgent(ctx, "agent", sdkmath.NewInt(50))
	require.NoError(t, err)
	r3, err := b.Borrow(ctx, "agent", sdkmath.NewInt(10))
	require.NoError(t, err)

	assert.Less(t, r1.Sequence, r2.Sequence)
	assert.Less(t, r2.Sequence, r3.Sequence)
	assert.Equal(t, "local-1", r1.TxRef)
	assert.False(t, r1.ConfirmedAt.IsZero())
}

func TestLocalFailedWritesProduceNoReceipt(t *testing.T) {
	t.Parallel()

	b := newLocal()
	ctx := context.Background()

	// Borrowing for an unknown agent fails before any receipt is issued.
	_, err := b.Borrow(ctx, "ghost", sdkmath.NewInt(1))
	assert.ErrorIs(t, err, ledger.ErrNotActive)

	rcpt, _, err := b.Deposit(ctx, "lp", sdkmath.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.Sequence)
}

func TestLocalStateReads(t *testing.T) {
	t.Parallel()

	b := newLocal()
	ctx := context.Background()

	_, exists, err := b.AgentState(ctx, "agent")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, err = b.Deposit(ctx, "lp", sdkmath.NewInt(500))
	require.NoError(t, err)
	_, err = b.OnboardAgent(ctx, "agent", sdkmath.NewInt(200))
	require.NoError(t, err)
	_, err = b.Borrow(ctx, "agent", sdkmath.NewInt(150))
	require.NoError(t, err)

	acct, exists, err := b.AgentState(ctx, "agent")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, sdkmath.NewInt(150), acct.Principal)

	pool, err := b.PoolState(ctx)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(350), pool.TotalLiquidity)
	assert.Equal(t, sdkmath.NewInt(150), pool.TotalDebt)

	shares, err := b.SharesOf(ctx, "lp")
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500), shares)
}
