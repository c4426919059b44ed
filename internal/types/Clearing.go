/*

This file contains the tunable policy parameters for the clearing engine and
the result/record types produced by orchestration operations.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ClearingParameters holds all tunable limits, rates and timing thresholds
// used by the clearing engine for credit sizing, interest accrual and
// onboarding. Different sets of these parameters can exist for different
// deployment profiles; the active set is versioned in the database.
type ClearingParameters struct {
	// --- Credit Sizing ---
	BaseLimit sdkmath.Int `json:"base_limit"` // Starting credit limit in micro-USDC before the reputation factor is applied.
	MaxLimit  sdkmath.Int `json:"max_limit"`  // Hard ceiling for any agent's credit limit in micro-USDC.

	// GrowthFactorBP is the multiplicative limit increase applied after any
	// successful repayment, in basis points (11000 = 1.10x).
	GrowthFactorBP int64 `json:"growth_factor_bp"`

	// --- Interest Accrual ---
	InterestRateBP  int64         `json:"interest_rate_bp"` // Simple interest per whole accrual interval, in basis points of current debt.
	AccrualInterval time.Duration `json:"accrual_interval"` // Fixed time quantum for interest accrual; partial intervals never accrue.

	// --- Reputation ---
	RepFactorMin      float64 `json:"rep_factor_min"`      // Lower clamp for the reputation factor.
	RepFactorMax      float64 `json:"rep_factor_max"`      // Upper clamp for the reputation factor.
	RepLookbackBlocks uint64  `json:"rep_lookback_blocks"` // Bounded trailing block window queried from the reputation feed. Feedback older than the window is treated as absent.

	// --- Onboarding Confirmation ---
	// Auto-onboarding submits a write and then polls the backend until the
	// account is durably visible. Polling backs off exponentially from
	// OnboardPollInterval and gives up with OnboardingTimeout after
	// OnboardTimeout.
	OnboardPollInterval time.Duration `json:"onboard_poll_interval"`
	OnboardTimeout      time.Duration `json:"onboard_timeout"`
}

// OperationKind names one orchestration operation for journaling.
type OperationKind string

const (
	OpOnboard  OperationKind = "onboard"
	OpBorrow   OperationKind = "borrow"
	OpRepay    OperationKind = "repay"
	OpDeposit  OperationKind = "deposit"
	OpWithdraw OperationKind = "withdraw"
	OpFreeze   OperationKind = "freeze"
	OpUnfreeze OperationKind = "unfreeze"
	OpStatus   OperationKind = "status"
)

// OperationRecord is one journal entry in the operation log. Amounts are
// stored as decimal strings to survive the round trip through NUMERIC
// columns without precision loss.
type OperationRecord struct {
	RecordID  int64         `json:"record_id"`
	OpID      string        `json:"op_id"` // UUID assigned by the orchestrator
	Kind      OperationKind `json:"kind"`
	Identity  string        `json:"identity"`
	Amount    string        `json:"amount"`
	Outcome   string        `json:"outcome"` // "ok" or "error"
	ErrorText string        `json:"error_text,omitempty"`
	TxRef     string        `json:"tx_ref,omitempty"` // backend confirmation reference (tx hash or local sequence)
	Timestamp time.Time     `json:"timestamp"`
}

// OnboardResult is returned by the onboarding operation. AlreadyOnboarded
// reports the informational (non-error) case where the account existed
// before the call; RepFactor is only meaningful for fresh onboardings.
type OnboardResult struct {
	Identity         AgentID     `json:"identity"`
	CreditLimit      sdkmath.Int `json:"credit_limit"`
	RepFactor        float64     `json:"rep_factor"`
	AlreadyOnboarded bool        `json:"already_onboarded"`
}

// DepositResult reports the shares minted for a liquidity deposit.
type DepositResult struct {
	Provider     ProviderID  `json:"provider"`
	SharesMinted sdkmath.Int `json:"shares_minted"`
	TxRef        string      `json:"tx_ref,omitempty"`
}

// WithdrawResult reports the assets released for a share redemption.
type WithdrawResult struct {
	Provider       ProviderID  `json:"provider"`
	AssetsReleased sdkmath.Int `json:"assets_released"`
	TxRef          string      `json:"tx_ref,omitempty"`
}

// FeedbackEvent is a single reputation feedback entry from the feed,
// ordered by timestamp.
type FeedbackEvent struct {
	Score     uint8     `json:"score"` // 0..100
	Timestamp time.Time `json:"timestamp"`
}

// ReputationSnapshot is the derived, non-persisted view of an identity's
// feedback history computed on demand from the reputation feed.
type ReputationSnapshot struct {
	Handle        string  `json:"handle"`
	Resolved      bool    `json:"resolved"`
	FeedbackCount int     `json:"feedback_count"`
	AverageScore  float64 `json:"average_score"` // only meaningful when FeedbackCount > 0
}

// AgentProfile carries the structured inputs for the composite reputation
// strategy: task completion counts, account age and slash history.
type AgentProfile struct {
	CompletedTasks uint64    `json:"completed_tasks"`
	FailedTasks    uint64    `json:"failed_tasks"`
	CreatedAt      time.Time `json:"created_at"`
	SlashCount     uint32    `json:"slash_count"`
}

// CompletionRate returns the fraction of tasks completed successfully, or
// zero when no tasks are recorded.
func (p AgentProfile) CompletionRate() float64 {
	total := p.CompletedTasks + p.FailedTasks
	if total == 0 {
		return 0
	}
	return float64(p.CompletedTasks) / float64(total)
}
