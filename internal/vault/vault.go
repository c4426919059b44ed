/*

This file contains the share-based liquidity vault: proportional deposit and
withdrawal accounting for liquidity providers, plus the lend-out/recover
primitives the credit ledger uses to move cash against outstanding debt.

*/

package vault

import (
	"errors"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/types"
	"github.com/agentfi/ace/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientDebt      = errors.New("recovery exceeds outstanding debt")
)

// LiquidityVault maintains the share/asset exchange relationship for
// liquidity providers. Pool-wide totals are a single shared resource: every
// mutation runs under one lock because share-minting math depends on a
// consistent read of both totals.
type LiquidityVault struct {
	mu sync.Mutex

	totalShares    sdkmath.Int
	totalLiquidity sdkmath.Int
	totalDebt      sdkmath.Int

	// positions are never deleted; a fully withdrawn provider keeps a zero
	// entry so re-deposit is idempotent.
	positions map[types.ProviderID]sdkmath.Int

	logger zerolog.Logger
}

// NewLiquidityVault creates an empty vault.
func NewLiquidityVault() *LiquidityVault {
	return &LiquidityVault{
		totalShares:    sdkmath.ZeroInt(),
		totalLiquidity: sdkmath.ZeroInt(),
		totalDebt:      sdkmath.ZeroInt(),
		positions:      make(map[types.ProviderID]sdkmath.Int),
		logger:         logger.GetForComponent("liquidity_vault"),
	}
}

// Deposit adds liquidity and mints shares for the provider. The first
// deposit into an empty pool seeds shares 1:1 with the amount; afterwards
// shares = floor(amount * totalShares / totalAssets).
func (v *LiquidityVault) Deposit(provider types.ProviderID, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var shares sdkmath.Int
	if v.totalShares.IsZero() {
		shares = amount
	} else {
		minted, err := utils.MulDivFloor(amount, v.totalShares, v.totalAssetsLocked())
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		shares = minted
	}

	v.totalLiquidity = v.totalLiquidity.Add(amount)
	v.totalShares = v.totalShares.Add(shares)
	v.positions[provider] = v.sharesOfLocked(provider).Add(shares)

	v.logger.Info().
		Str("provider", string(provider)).
		Str("amount", amount.String()).
		Str("sharesMinted", shares.String()).
		Str("totalShares", v.totalShares.String()).
		Msg("Liquidity deposited")

	return shares, nil
}

// Withdraw burns the provider's shares and releases the proportional assets,
// assets = floor(shares * totalAssets / totalShares). Withdrawal is capped
// by cash-on-hand, not by total claim value: assets locked up as outstanding
// agent debt cannot be withdrawn until they are repaid.
func (v *LiquidityVault) Withdraw(provider types.ProviderID, shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.sharesOfLocked(provider)
	if held.LT(shares) {
		return sdkmath.ZeroInt(), ErrInsufficientShares
	}

	assets, err := utils.MulDivFloor(shares, v.totalAssetsLocked(), v.totalShares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assets.GT(v.totalLiquidity) {
		return sdkmath.ZeroInt(), ErrInsufficientLiquidity
	}

	v.totalShares = v.totalShares.Sub(shares)
	v.totalLiquidity = v.totalLiquidity.Sub(assets)
	v.positions[provider] = held.Sub(shares)

	v.logger.Info().
		Str("provider", string(provider)).
		Str("sharesBurned", shares.String()).
		Str("assetsReleased", assets.String()).
		Str("totalShares", v.totalShares.String()).
		Msg("Liquidity withdrawn")

	return assets, nil
}

// LendOut moves liquidity into outstanding debt for a borrow. Total assets
// are unchanged; the claim merely shifts from cash to debt.
func (v *LiquidityVault) LendOut(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if amount.GT(v.totalLiquidity) {
		return ErrInsufficientLiquidity
	}
	v.totalLiquidity = v.totalLiquidity.Sub(amount)
	v.totalDebt = v.totalDebt.Add(amount)
	return nil
}

// Recover moves repaid funds from outstanding debt back into liquidity.
func (v *LiquidityVault) Recover(amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if amount.GT(v.totalDebt) {
		return ErrInsufficientDebt
	}
	v.totalDebt = v.totalDebt.Sub(amount)
	v.totalLiquidity = v.totalLiquidity.Add(amount)
	return nil
}

// AccrueDebt adds freshly accrued interest to the aggregate debt counter.
// This grows total assets, which is how accrued interest flows through to
// the share exchange rate.
func (v *LiquidityVault) AccrueDebt(interest sdkmath.Int) error {
	if interest.IsNil() || interest.IsNegative() {
		return ErrInvalidAmount
	}
	if interest.IsZero() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.totalDebt = v.totalDebt.Add(interest)
	return nil
}

// PoolState returns a consistent copy of the pool-wide totals.
func (v *LiquidityVault) PoolState() types.PoolState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return types.PoolState{
		TotalShares:    v.totalShares,
		TotalLiquidity: v.totalLiquidity,
		TotalDebt:      v.totalDebt,
	}
}

// TotalLiquidity returns the spendable cash currently held by the vault.
func (v *LiquidityVault) TotalLiquidity() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalLiquidity
}

// SharesOf returns the provider's current share balance.
func (v *LiquidityVault) SharesOf(provider types.ProviderID) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sharesOfLocked(provider)
}

// ExchangeRate returns the 18-decimal fixed-point value of one share.
func (v *LiquidityVault) ExchangeRate() (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return utils.ExchangeRate(v.totalAssetsLocked(), v.totalShares)
}

func (v *LiquidityVault) totalAssetsLocked() sdkmath.Int {
	return v.totalLiquidity.Add(v.totalDebt)
}

func (v *LiquidityVault) sharesOfLocked(provider types.ProviderID) sdkmath.Int {
	if held, ok := v.positions[provider]; ok {
		return held
	}
	return sdkmath.ZeroInt()
}
