/*
This file contains common utility functions for fixed-point arithmetic on
micro-USDC amounts and share quantities, built on SDK math operations.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// USDCDecimals is the fixed-point precision of all USDC-denominated amounts.
const USDCDecimals = 6

// RateDecimals is the fixed-point precision of the share exchange rate;
// 10^18 represents par.
const RateDecimals = 18

// BasisPointDivisor converts basis points to a fraction.
const BasisPointDivisor = 10000

// Error definitions for zero-tolerance error handling
var (
	ErrAmountNil      = errors.New("amount is nil")
	ErrAmountNegative = errors.New("amount is negative")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotFinite      = errors.New("value is not finite")
)

// rateScale is 10^18, the par exchange rate.
var rateScale = sdkmath.NewIntWithDecimal(1, RateDecimals)

// MulDivFloor computes floor(a * b / c) on non-negative integers. Truncation
// toward zero is the only rounding mode used by the vault; on both mint and
// burn it favors the pool over the individual, which blocks value extraction
// through repeated small deposits and withdrawals.
func MulDivFloor(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if a.IsNil() || b.IsNil() || c.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if a.IsNegative() || b.IsNegative() || c.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if c.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	return a.Mul(b).Quo(c), nil
}

// ApplyBasisPoints computes floor(amount * bp / 10000).
func ApplyBasisPoints(amount sdkmath.Int, bp int64) (sdkmath.Int, error) {
	if bp < 0 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d basis points", ErrAmountNegative, bp)
	}
	return MulDivFloor(amount, sdkmath.NewInt(bp), sdkmath.NewInt(BasisPointDivisor))
}

// ExchangeRate returns totalAssets * 10^18 / totalShares, the fixed-point
// value of one share. An empty pool is at par by definition.
func ExchangeRate(totalAssets, totalShares sdkmath.Int) (sdkmath.Int, error) {
	if totalShares.IsNil() || totalAssets.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if totalShares.IsZero() {
		return rateScale, nil
	}
	return MulDivFloor(totalAssets, rateScale, totalShares)
}

// ScaleByFactor computes floor(amount * factor) for a non-negative float
// factor. The factor is routed through a decimal string to avoid binary
// floating point artifacts, the same discipline used for all float inputs.
func ScaleByFactor(amount sdkmath.Int, factor float64) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: factor is %f", ErrNotFinite, factor)
	}
	if factor < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	dec, err := sdkmath.LegacyNewDecFromStr(fmt.Sprintf("%.12f", factor))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to create decimal from factor: %w", err)
	}
	return dec.MulInt(amount).TruncateInt(), nil
}

// USDCToDisplay converts a micro-USDC amount to a float64 for logging and
// reporting only; it must never feed back into ledger arithmetic.
func USDCToDisplay(amount sdkmath.Int) (float64, error) {
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}
	dec := sdkmath.LegacyNewDecFromIntWithPrec(amount, USDCDecimals)
	result, err := dec.Float64()
	if err != nil {
		return 0, fmt.Errorf("conversion failed: %w", err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}
