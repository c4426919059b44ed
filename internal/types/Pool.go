package types

import (
	sdkmath "cosmossdk.io/math"
)

// PoolState is the vault-wide share and asset accounting. It is owned
// exclusively by the liquidity vault and mutated only by deposit, withdraw,
// lend-out, recover and accrual operations under the pool lock.
//
// Invariants:
//   - TotalAssets() == TotalLiquidity + TotalDebt at all times.
//   - TotalAssets() == 0 if and only if TotalShares == 0.
//   - The sum of all LPPosition shares equals TotalShares.
type PoolState struct {
	TotalShares    sdkmath.Int `json:"total_shares"`
	TotalLiquidity sdkmath.Int `json:"total_liquidity"` // spendable cash held by the vault (micro-USDC)
	TotalDebt      sdkmath.Int `json:"total_debt"`      // sum of all outstanding agent debt (micro-USDC)
}

// TotalAssets returns the total claim value backing outstanding shares.
func (p PoolState) TotalAssets() sdkmath.Int {
	return p.TotalLiquidity.Add(p.TotalDebt)
}

// LPPosition is one liquidity provider's proportional claim on the pool.
// Positions are never deleted; a fully withdrawn position simply holds zero
// shares so a later re-deposit is idempotent.
type LPPosition struct {
	Provider ProviderID  `json:"provider"`
	Shares   sdkmath.Int `json:"shares"`
}
