/*

This file contains the types describing agent credit accounts and their
reported status.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// AgentID is the canonical identity of a borrowing agent. For the live EVM
// backend this is a 0x-prefixed address; the local backend treats it as an
// opaque string.
type AgentID string

// ProviderID identifies a liquidity provider holding vault shares.
type ProviderID string

// AgentAccount is the per-agent credit account as reported by the ledger
// backend. The backend owns this state exclusively; every copy held outside
// of it is a transient, possibly stale view fetched for one request.
type AgentAccount struct {
	ID            AgentID     `json:"id"`
	Principal     sdkmath.Int `json:"principal"`      // borrowed capital not yet repaid (micro-USDC)
	Debt          sdkmath.Int `json:"debt"`           // principal plus unpaid accrued interest (micro-USDC)
	CreditLimit   sdkmath.Int `json:"credit_limit"`   // maximum principal, bounded [0, MaxLimit]
	LastAccrued   time.Time   `json:"last_accrued"`   // watermark up to which interest is folded into Debt
	LastRepayment time.Time   `json:"last_repayment"` //
	Frozen        bool        `json:"frozen"`
	Active        bool        `json:"active"` // one-way flag, set once by onboarding
}

// InterestOwed returns the accrued-but-unpaid interest portion of the debt.
func (a AgentAccount) InterestOwed() sdkmath.Int {
	if a.Debt.LT(a.Principal) {
		return sdkmath.ZeroInt()
	}
	return a.Debt.Sub(a.Principal)
}

// AvailableCredit returns the remaining borrowing headroom. Headroom is
// governed by principal, not total debt: unpaid interest reduces net worth
// but does not shrink what the agent may still draw until it is repaid.
func (a AgentAccount) AvailableCredit() sdkmath.Int {
	if !a.Active || a.Frozen {
		return sdkmath.ZeroInt()
	}
	if a.CreditLimit.LTE(a.Principal) {
		return sdkmath.ZeroInt()
	}
	return a.CreditLimit.Sub(a.Principal)
}

// AgentStatus is the normalized status view returned by the orchestrator.
type AgentStatus struct {
	Identity    AgentID     `json:"identity"`
	Debt        sdkmath.Int `json:"debt"`
	Principal   sdkmath.Int `json:"principal"`
	CreditLimit sdkmath.Int `json:"credit_limit"`
	Available   sdkmath.Int `json:"available"`
	Frozen      bool        `json:"frozen"`
	Active      bool        `json:"active"`
	// Stale marks a view served from a cached snapshot rather than a fresh
	// backend read. Stale views must never feed a mutating decision.
	Stale bool      `json:"stale"`
	AsOf  time.Time `json:"as_of"`
}

// AccountSnapshot is the persisted form of a cached agent state view,
// captured after each confirmed operation and served by the web API.
type AccountSnapshot struct {
	SnapshotID  int64     `json:"snapshot_id"`
	Identity    AgentID   `json:"identity"`
	Principal   string    `json:"principal"`
	Debt        string    `json:"debt"`
	CreditLimit string    `json:"credit_limit"`
	Available   string    `json:"available"`
	Frozen      bool      `json:"frozen"`
	Active      bool      `json:"active"`
	CapturedAt  time.Time `json:"captured_at"`
}
