/*

This file contains the per-agent credit ledger: account lifecycle, borrowing
against a credit limit, interest-first repayment allocation and the lazy
interest accrual that precedes every economic operation.

*/

package ledger

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/types"
	"github.com/agentfi/ace/internal/utils"
	"github.com/agentfi/ace/internal/vault"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrAlreadyOnboarded = errors.New("agent already onboarded")
	ErrNotActive        = errors.New("agent account is not active")
	ErrFrozen           = errors.New("agent account is frozen")
	ErrExceedsLimit     = errors.New("borrow exceeds credit limit")
)

// CreditLedger owns the set of agent accounts and applies every economic
// operation against them. Liquidity movements go through the vault so the
// aggregate debt counter and the pool's cash stay consistent: the counter is
// only ever mutated together with an account mutation, never on its own.
type CreditLedger struct {
	mu       sync.Mutex
	accounts map[types.AgentID]*types.AgentAccount

	vault           *vault.LiquidityVault
	interestRateBP  int64
	accrualInterval time.Duration

	// now is swappable for accrual tests.
	now func() time.Time

	logger zerolog.Logger
}

// NewCreditLedger creates a ledger bound to the given vault. The interest
// rate is simple per whole interval; accrual compounds across calls because
// each accrual operates on the already-accrued debt.
func NewCreditLedger(v *vault.LiquidityVault, interestRateBP int64, accrualInterval time.Duration) *CreditLedger {
	return &CreditLedger{
		accounts:        make(map[types.AgentID]*types.AgentAccount),
		vault:           v,
		interestRateBP:  interestRateBP,
		accrualInterval: accrualInterval,
		now:             time.Now,
		logger:          logger.GetForComponent("credit_ledger"),
	}
}

// SetClock overrides the time source. Intended for tests only.
func (l *CreditLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Onboard creates a fresh, active account with zero debt and the given
// credit limit. Active is a one-way flag: accounts are never closed, so an
// existing active account always fails with ErrAlreadyOnboarded.
func (l *CreditLedger) Onboard(id types.AgentID, creditLimit sdkmath.Int) error {
	if creditLimit.IsNil() || creditLimit.IsNegative() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[id]; ok && acct.Active {
		return ErrAlreadyOnboarded
	}

	now := l.now()
	l.accounts[id] = &types.AgentAccount{
		ID:            id,
		Principal:     sdkmath.ZeroInt(),
		Debt:          sdkmath.ZeroInt(),
		CreditLimit:   creditLimit,
		LastAccrued:   now,
		LastRepayment: now,
		Frozen:        false,
		Active:        true,
	}

	l.logger.Info().
		Str("agent", string(id)).
		Str("creditLimit", creditLimit.String()).
		Msg("Agent onboarded")
	return nil
}

// SetCreditLimit overwrites the account's credit limit unconditionally. No
// monotonicity is enforced here; growth policy lives in the orchestrator.
func (l *CreditLedger) SetCreditLimit(id types.AgentID, newLimit sdkmath.Int) error {
	if newLimit.IsNil() || newLimit.IsNegative() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.activeAccountLocked(id)
	if err != nil {
		return err
	}
	acct.CreditLimit = newLimit

	l.logger.Info().
		Str("agent", string(id)).
		Str("newLimit", newLimit.String()).
		Msg("Credit limit updated")
	return nil
}

// Borrow draws down the agent's credit line. Interest accrues first, then
// the limit check runs against principal (not debt), then the vault lends
// the cash out. The limit and liquidity checks and the balance mutation are
// one atomic step under the ledger lock.
func (l *CreditLedger) Borrow(id types.AgentID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.activeAccountLocked(id)
	if err != nil {
		return err
	}
	if acct.Frozen {
		return ErrFrozen
	}

	if err := l.accrueLocked(acct); err != nil {
		return err
	}

	if acct.Principal.Add(amount).GT(acct.CreditLimit) {
		return ErrExceedsLimit
	}
	if err := l.vault.LendOut(amount); err != nil {
		return err
	}

	acct.Principal = acct.Principal.Add(amount)
	acct.Debt = acct.Debt.Add(amount)

	l.logger.Info().
		Str("agent", string(id)).
		Str("amount", amount.String()).
		Str("principal", acct.Principal.String()).
		Str("debt", acct.Debt.String()).
		Msg("Borrow executed")
	return nil
}

// Repay pulls funds from the agent back into the vault. Overpayment is
// silently capped at the outstanding debt, never rejected. Allocation is
// interest-first: repaid interest reduces debt only, so borrowing power is
// not restored until the interest portion is cleared.
//
// The applied amount (after clamping) is returned so callers can report it.
func (l *CreditLedger) Repay(id types.AgentID, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.activeAccountLocked(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	if err := l.accrueLocked(acct); err != nil {
		return sdkmath.ZeroInt(), err
	}

	applied := amount
	if applied.GT(acct.Debt) {
		applied = acct.Debt
	}

	interestOwed := acct.InterestOwed()
	if applied.GT(interestOwed) {
		principalRepaid := applied.Sub(interestOwed)
		acct.Principal = acct.Principal.Sub(principalRepaid)
	}
	acct.Debt = acct.Debt.Sub(applied)
	acct.LastRepayment = l.now()

	if err := l.vault.Recover(applied); err != nil {
		return sdkmath.ZeroInt(), err
	}

	l.logger.Info().
		Str("agent", string(id)).
		Str("requested", amount.String()).
		Str("applied", applied.String()).
		Str("principal", acct.Principal.String()).
		Str("debt", acct.Debt.String()).
		Msg("Repayment executed")
	return applied, nil
}

// Accrue folds pending interest into the account's debt without any other
// mutation. Exposed for status queries and maintenance sweeps.
func (l *CreditLedger) Accrue(id types.AgentID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.activeAccountLocked(id)
	if err != nil {
		return err
	}
	return l.accrueLocked(acct)
}

// Freeze blocks further borrowing. Repayment stays open so a frozen agent
// can still wind its debt down.
func (l *CreditLedger) Freeze(id types.AgentID) error {
	return l.setFrozen(id, true)
}

// Unfreeze re-enables borrowing.
func (l *CreditLedger) Unfreeze(id types.AgentID) error {
	return l.setFrozen(id, false)
}

func (l *CreditLedger) setFrozen(id types.AgentID, frozen bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.activeAccountLocked(id)
	if err != nil {
		return err
	}
	acct.Frozen = frozen

	l.logger.Info().
		Str("agent", string(id)).
		Bool("frozen", frozen).
		Msg("Freeze state changed")
	return nil
}

// AvailableCredit returns the agent's remaining borrowing headroom, zero for
// unknown, inactive or frozen accounts.
func (l *CreditLedger) AvailableCredit(id types.AgentID) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return acct.AvailableCredit()
}

// Account returns a copy of the account state, and whether it exists.
func (l *CreditLedger) Account(id types.AgentID) (types.AgentAccount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return types.AgentAccount{}, false
	}
	return *acct, true
}

// activeAccountLocked resolves an account that must exist and be active.
func (l *CreditLedger) activeAccountLocked(id types.AgentID) (*types.AgentAccount, error) {
	acct, ok := l.accounts[id]
	if !ok || !acct.Active {
		return nil, ErrNotActive
	}
	return acct, nil
}

// accrueLocked applies lazy interest accrual up to the current time.
//
// Only whole elapsed intervals accrue: interest = debt * rateBP * intervals
// / 10000, and the watermark advances by exactly those intervals, never
// snapped to now. The unconsumed remainder of the current interval stays
// banked for the next accrual. Interest is simple within one call and
// compounds across calls, since each accrual starts from the already-accrued
// debt.
func (l *CreditLedger) accrueLocked(acct *types.AgentAccount) error {
	elapsed := l.now().Sub(acct.LastAccrued)
	if elapsed < l.accrualInterval {
		return nil
	}
	intervals := int64(elapsed / l.accrualInterval)

	if acct.Debt.IsZero() {
		// Nothing owed; still advance the watermark so a later borrow does
		// not accrue interest for the debt-free gap.
		acct.LastAccrued = acct.LastAccrued.Add(time.Duration(intervals) * l.accrualInterval)
		return nil
	}

	interest, err := utils.ApplyBasisPoints(acct.Debt.Mul(sdkmath.NewInt(intervals)), l.interestRateBP)
	if err != nil {
		return err
	}

	acct.Debt = acct.Debt.Add(interest)
	acct.LastAccrued = acct.LastAccrued.Add(time.Duration(intervals) * l.accrualInterval)

	if err := l.vault.AccrueDebt(interest); err != nil {
		return err
	}

	l.logger.Debug().
		Str("agent", string(acct.ID)).
		Int64("intervals", intervals).
		Str("interest", interest.String()).
		Str("debt", acct.Debt.String()).
		Msg("Interest accrued")
	return nil
}

// ProjectDebt returns what the account's debt would be if interest were
// accrued now, without mutating any state. Used by read-only status paths.
func (l *CreditLedger) ProjectDebt(id types.AgentID) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return sdkmath.ZeroInt(), ErrNotActive
	}
	return ProjectDebt(*acct, l.interestRateBP, l.accrualInterval, l.now()), nil
}

// ProjectDebt computes the debt an account would carry after accruing up to
// now, using the same whole-interval quantization as the ledger. It is a
// pure function so remote backends can reuse it on fetched state.
func ProjectDebt(acct types.AgentAccount, interestRateBP int64, accrualInterval time.Duration, now time.Time) sdkmath.Int {
	if acct.Debt.IsNil() || acct.Debt.IsZero() || accrualInterval <= 0 {
		return acct.Debt
	}
	elapsed := now.Sub(acct.LastAccrued)
	if elapsed < accrualInterval {
		return acct.Debt
	}
	intervals := int64(elapsed / accrualInterval)
	interest, err := utils.ApplyBasisPoints(acct.Debt.Mul(sdkmath.NewInt(intervals)), interestRateBP)
	if err != nil {
		return acct.Debt
	}
	return acct.Debt.Add(interest)
}
