/*

This file contains the default parameters for the clearing engine.

These parameters govern real credit extension against pooled liquidity.
Each value has been chosen to keep uncollateralized exposure bounded while
letting reliable agents grow their lines over time.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/agentfi/ace/internal/types"
)

// DefaultClearingParameters provides a baseline set of parameters for the clearing engine.
// These values are used if no active parameters are found in the database during initialization.
var DefaultClearingParameters = types.ClearingParameters{
	// --- Credit Limits ---
	BaseLimit: sdkmath.NewInt(100_000000), // 100 USDC before reputation scaling.
	// A new agent with neutral reputation starts at 100 USDC. Small enough
	// that a defaulting unknown costs little, large enough to be useful.

	MaxLimit: sdkmath.NewInt(10_000_000000), // 10,000 USDC hard cap.
	// No single agent may concentrate more than 10k USDC of pool exposure
	// regardless of repayment history.

	GrowthFactorBP: 11000, // Limit grows 10% per successful repayment.
	// Growth compounds, so roughly 48 repayments take an agent from the
	// base limit to the cap.

	// --- Interest ---
	InterestRateBP:  10, // 0.1% simple interest per accrual interval.
	AccrualInterval: time.Hour,

	// --- Reputation ---
	RepFactorMin:      0.1,
	RepFactorMax:      3.0,
	RepLookbackBlocks: 50_000, // Roughly a week of feedback on a 12s chain.

	// --- Onboarding Confirmation ---
	OnboardPollInterval: 500 * time.Millisecond,
	OnboardTimeout:      30 * time.Second,
}
