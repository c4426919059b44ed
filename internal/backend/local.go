package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/agentfi/ace/internal/ledger"
	"github.com/agentfi/ace/internal/types"
	"github.com/agentfi/ace/internal/vault"
)

// Local is the in-process ledger backend wrapping the vault and credit
// ledger engine. Commits are immediate, so every write confirms
// synchronously with a monotonically increasing sequence. It backs the
// local run mode and the test suites.
type Local struct {
	vault  *vault.LiquidityVault
	ledger *ledger.CreditLedger
	seq    atomic.Uint64
}

// NewLocal creates a local backend around the given engine components.
func NewLocal(v *vault.LiquidityVault, l *ledger.CreditLedger) *Local {
	return &Local{vault: v, ledger: l}
}

// Vault exposes the underlying vault for local-mode wiring.
func (b *Local) Vault() *vault.LiquidityVault { return b.vault }

// Ledger exposes the underlying credit ledger for local-mode wiring.
func (b *Local) Ledger() *ledger.CreditLedger { return b.ledger }

func (b *Local) receipt() Receipt {
	seq := b.seq.Add(1)
	return Receipt{
		Sequence:    seq,
		TxRef:       fmt.Sprintf("local-%d", seq),
		ConfirmedAt: time.Now(),
	}
}

// AgentState implements LedgerBackend.
func (b *Local) AgentState(_ context.Context, id types.AgentID) (types.AgentAccount, bool, error) {
	acct, ok := b.ledger.Account(id)
	return acct, ok, nil
}

// PoolState implements LedgerBackend.
func (b *Local) PoolState(_ context.Context) (types.PoolState, error) {
	return b.vault.PoolState(), nil
}

// SharesOf implements LedgerBackend.
func (b *Local) SharesOf(_ context.Context, provider types.ProviderID) (sdkmath.Int, error) {
	return b.vault.SharesOf(provider), nil
}

// OnboardAgent implements LedgerBackend.
func (b *Local) OnboardAgent(_ context.Context, id types.AgentID, creditLimit sdkmath.Int) (Receipt, error) {
	if err := b.ledger.Onboard(id, creditLimit); err != nil {
		return Receipt{}, err
	}
	return b.receipt(), nil
}

// SetCreditLimit implements LedgerBackend.
func (b *Local) SetCreditLimit(_ context.Context, id types.AgentID, newLimit sdkmath.Int) (Receipt, error) {
	if err := b.ledger.SetCreditLimit(id, newLimit); err != nil {
		return Receipt{}, err
	}
	return b.receipt(), nil
}

// Borrow implements LedgerBackend.
func (b *Local) Borrow(_ context.Context, id types.AgentID, amount sdkmath.Int) (Receipt, error) {
	if err := b.ledger.Borrow(id, amount); err != nil {
		return Receipt{}, err
	}
	return b.receipt(), nil
}

// Repay implements LedgerBackend. The applied amount after overpayment
// clamping is returned alongside the receipt.
func (b *Local) Repay(_ context.Context, id types.AgentID, amount sdkmath.Int) (Receipt, sdkmath.Int, error) {
	applied, err := b.ledger.Repay(id, amount)
	if err != nil {
		return Receipt{}, sdkmath.ZeroInt(), err
	}
	return b.receipt(), applied, nil
}

// Freeze implements LedgerBackend.
func (b *Local) Freeze(_ context.Context, id types.AgentID) (Receipt, error) {
	if err := b.ledger.Freeze(id); err != nil {
		return Receipt{}, err
	}
	return b.receipt(), nil
}

// Unfreeze implements LedgerBackend.
func (b *Local) Unfreeze(_ context.Context, id types.AgentID) (Receipt, error) {
	if err := b.ledger.Unfreeze(id); err != nil {
		return Receipt{}, err
	}
	return b.receipt(), nil
}

// Deposit implements LedgerBackend.
func (b *Local) Deposit(_ context.Context, provider types.ProviderID, amount sdkmath.Int) (Receipt, sdkmath.Int, error) {
	shares, err := b.vault.Deposit(provider, amount)
	if err != nil {
		return Receipt{}, sdkmath.ZeroInt(), err
	}
	return b.receipt(), shares, nil
}

// Withdraw implements LedgerBackend.
func (b *Local) Withdraw(_ context.Context, provider types.ProviderID, shares sdkmath.Int) (Receipt, sdkmath.Int, error) {
	assets, err := b.vault.Withdraw(provider, shares)
	if err != nil {
		return Receipt{}, sdkmath.ZeroInt(), err
	}
	return b.receipt(), assets, nil
}

// Close implements LedgerBackend. The local backend holds no external
// resources.
func (b *Local) Close() error { return nil }
