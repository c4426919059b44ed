// Package backend defines the ledger backend collaborator contract: the
// authoritative, serially consistent store of account and pool state. Every
// mutation is a request/response round trip that completes with a
// confirmation receipt after durable commit; there is no cancellation for a
// submitted mutation, and a caller that times out waiting must reconcile by
// re-reading state rather than assuming an outcome.
package backend

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/agentfi/ace/internal/types"
)

// Receipt confirms that a mutating operation committed durably.
type Receipt struct {
	// Sequence orders confirmations within one backend instance.
	Sequence uint64
	// TxRef is the backend-specific reference (tx hash for the EVM backend,
	// a synthetic reference for the local one).
	TxRef string
	// ConfirmedAt is when the commit became durably visible.
	ConfirmedAt time.Time
}

// LedgerBackend is the full collaborator contract consumed by the
// orchestrator. Implementations must serialize conflicting mutations
// internally; callers additionally serialize per identity because the
// backend offers no optimistic-concurrency feedback.
type LedgerBackend interface {
	// --- Reads ---

	// AgentState fetches the account for an identity. exists is false when
	// the identity has never been onboarded.
	AgentState(ctx context.Context, id types.AgentID) (acct types.AgentAccount, exists bool, err error)

	// PoolState fetches the vault-wide totals.
	PoolState(ctx context.Context) (types.PoolState, error)

	// SharesOf fetches a liquidity provider's share balance.
	SharesOf(ctx context.Context, provider types.ProviderID) (sdkmath.Int, error)

	// --- Agent writes ---

	OnboardAgent(ctx context.Context, id types.AgentID, creditLimit sdkmath.Int) (Receipt, error)
	SetCreditLimit(ctx context.Context, id types.AgentID, newLimit sdkmath.Int) (Receipt, error)
	Borrow(ctx context.Context, id types.AgentID, amount sdkmath.Int) (Receipt, error)
	Repay(ctx context.Context, id types.AgentID, amount sdkmath.Int) (Receipt, sdkmath.Int, error)
	Freeze(ctx context.Context, id types.AgentID) (Receipt, error)
	Unfreeze(ctx context.Context, id types.AgentID) (Receipt, error)

	// --- Liquidity provider writes ---

	Deposit(ctx context.Context, provider types.ProviderID, amount sdkmath.Int) (Receipt, sdkmath.Int, error)
	Withdraw(ctx context.Context, provider types.ProviderID, shares sdkmath.Int) (Receipt, sdkmath.Int, error)

	// Close releases any resources held by the backend.
	Close() error
}
