/*

This file contains the clearing orchestrator: the policy layer binding
reputation to credit and the consistency boundary between cached views and
the authoritative ledger backend.

Per-identity serialization is mandatory here. The backend offers no
optimistic-concurrency feedback, so two in-flight mutations against the same
identity could decide on stale reads; every mutating operation therefore
holds that identity's lock for its full round trip. Operations on different
identities proceed in parallel.

*/

package clearing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentfi/ace/internal/backend"
	"github.com/agentfi/ace/internal/ledger"
	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/reputation"
	"github.com/agentfi/ace/internal/state"
	"github.com/agentfi/ace/internal/types"
	"github.com/agentfi/ace/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrOnboardingTimeout reports that an auto-onboarding write was
	// submitted but never became durably visible within the deadline.
	// Callers must reconcile by re-reading state, not assume either outcome.
	ErrOnboardingTimeout = errors.New("onboarding confirmation timed out")
)

// maxOnboardPollDelay caps the exponential poll backoff.
const maxOnboardPollDelay = 8 * time.Second

const (
	DEFAULT_CONFIG_NAME    = "default"
	DEFAULT_CONFIG_VERSION = 1
)

// Orchestrator exposes the clearing API to agents and transport layers.
type Orchestrator struct {
	backend backend.LedgerBackend
	factors reputation.Strategy
	params  types.ClearingParameters

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	logger zerolog.Logger
}

// Config holds the dependencies for creating a new Orchestrator. Both the
// backend and the reputation strategy are injected; the orchestrator never
// reaches for process-wide singletons.
type Config struct {
	Backend    backend.LedgerBackend
	Reputation reputation.Strategy
	Params     types.ClearingParameters
}

// NewOrchestrator creates an orchestrator with dependency injection.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("orchestrator configuration validation failed: %w", err)
	}

	o := &Orchestrator{
		backend: cfg.Backend,
		factors: cfg.Reputation,
		params:  cfg.Params,
		locks:   make(map[string]*sync.Mutex),
		logger:  logger.GetForComponent("clearing_orchestrator"),
	}

	o.logger.Info().
		Str("repStrategy", cfg.Reputation.Name()).
		Str("baseLimit", cfg.Params.BaseLimit.String()).
		Str("maxLimit", cfg.Params.MaxLimit.String()).
		Msg("Clearing orchestrator created")
	return o, nil
}

func validateConfig(cfg Config) error {
	if cfg.Backend == nil {
		return errors.New("ledger backend cannot be nil")
	}
	if cfg.Reputation == nil {
		return errors.New("reputation strategy cannot be nil")
	}
	if cfg.Params.BaseLimit.IsNil() || cfg.Params.BaseLimit.IsNegative() {
		return errors.New("base limit must be non-negative")
	}
	if cfg.Params.MaxLimit.IsNil() || !cfg.Params.MaxLimit.IsPositive() {
		return errors.New("max limit must be positive")
	}
	if cfg.Params.GrowthFactorBP < utils.BasisPointDivisor {
		return errors.New("growth factor must be at least 10000 basis points")
	}
	if cfg.Params.AccrualInterval <= 0 {
		return errors.New("accrual interval must be positive")
	}
	if cfg.Params.OnboardPollInterval <= 0 || cfg.Params.OnboardTimeout <= 0 {
		return errors.New("onboarding poll interval and timeout must be positive")
	}
	return nil
}

// lockFor returns the mutex serializing operations for one identity.
func (o *Orchestrator) lockFor(key string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	mu, ok := o.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[key] = mu
	}
	return mu
}

// HandleOnboard onboards an agent with a reputation-scaled initial credit
// limit. An already-onboarded agent is reported as informational success,
// never as a failure.
func (o *Orchestrator) HandleOnboard(ctx context.Context, id types.AgentID, repHandle string) (types.OnboardResult, error) {
	opLogger := o.opLogger("onboard", string(id))

	mu := o.lockFor(string(id))
	mu.Lock()
	defer mu.Unlock()

	result, txRef, err := o.onboardLocked(ctx, opLogger, id, repHandle)
	o.journal(opLogger, types.OpOnboard, string(id), "", txRef, err)
	return result, err
}

func (o *Orchestrator) onboardLocked(ctx context.Context, opLogger zerolog.Logger, id types.AgentID, repHandle string) (types.OnboardResult, string, error) {
	acct, exists, err := o.backend.AgentState(ctx, id)
	if err != nil {
		return types.OnboardResult{}, "", fmt.Errorf("failed to read agent state: %w", err)
	}
	if exists && acct.Active {
		opLogger.Info().Msg("Agent already onboarded, returning existing state")
		return types.OnboardResult{
			Identity:         id,
			CreditLimit:      acct.CreditLimit,
			AlreadyOnboarded: true,
		}, "", nil
	}

	// Any feed degradation inside the strategy collapses to the neutral
	// factor; onboarding never fails on reputation trouble.
	factor := o.factors.FactorFor(ctx, reputation.FactorRequest{Handle: repHandle})

	initialLimit, err := utils.ScaleByFactor(o.params.BaseLimit, factor)
	if err != nil {
		return types.OnboardResult{}, "", fmt.Errorf("failed to size initial credit limit: %w", err)
	}
	if initialLimit.GT(o.params.MaxLimit) {
		initialLimit = o.params.MaxLimit
	}

	rcpt, err := o.backend.OnboardAgent(ctx, id, initialLimit)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyOnboarded) {
			// Lost a race with a concurrent onboarding elsewhere; read back
			// the winner's state and report it as information.
			if acct, _, readErr := o.backend.AgentState(ctx, id); readErr == nil {
				return types.OnboardResult{
					Identity:         id,
					CreditLimit:      acct.CreditLimit,
					AlreadyOnboarded: true,
				}, "", nil
			}
		}
		return types.OnboardResult{}, "", fmt.Errorf("onboarding submission failed: %w", err)
	}

	opLogger.Info().
		Float64("repFactor", factor).
		Str("creditLimit", initialLimit.String()).
		Str("txRef", rcpt.TxRef).
		Msg("Agent onboarded")

	return types.OnboardResult{
		Identity:    id,
		CreditLimit: initialLimit,
		RepFactor:   factor,
	}, rcpt.TxRef, nil
}

// HandleBorrow draws down the agent's credit line, auto-onboarding first if
// needed.
func (o *Orchestrator) HandleBorrow(ctx context.Context, id types.AgentID, amount sdkmath.Int) (types.AgentStatus, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.AgentStatus{}, ErrInvalidAmount
	}
	opLogger := o.opLogger("borrow", string(id))

	mu := o.lockFor(string(id))
	mu.Lock()
	defer mu.Unlock()

	status, txRef, err := o.borrowLocked(ctx, opLogger, id, amount)
	o.journal(opLogger, types.OpBorrow, string(id), amount.String(), txRef, err)
	return status, err
}

func (o *Orchestrator) borrowLocked(ctx context.Context, opLogger zerolog.Logger, id types.AgentID, amount sdkmath.Int) (types.AgentStatus, string, error) {
	if _, err := o.ensureActiveLocked(ctx, opLogger, id); err != nil {
		return types.AgentStatus{}, "", err
	}

	rcpt, err := o.backend.Borrow(ctx, id, amount)
	if err != nil {
		return types.AgentStatus{}, "", err
	}

	status, err := o.freshStatus(ctx, id)
	if err != nil {
		return types.AgentStatus{}, rcpt.TxRef, err
	}

	opLogger.Info().
		Str("amount", amount.String()).
		Str("debt", status.Debt.String()).
		Str("available", status.Available.String()).
		Str("txRef", rcpt.TxRef).
		Msg("Borrow confirmed")
	return status, rcpt.TxRef, nil
}

// HandleRepay repays debt and applies the limit-growth policy: any
// successful repayment, regardless of amount, grows the credit limit to
// min(limit * growthFactor, maxLimit). Growth at the cap is a no-op, so
// repeated repayments can never push the limit past the cap.
func (o *Orchestrator) HandleRepay(ctx context.Context, id types.AgentID, amount sdkmath.Int) (types.AgentStatus, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.AgentStatus{}, ErrInvalidAmount
	}
	opLogger := o.opLogger("repay", string(id))

	mu := o.lockFor(string(id))
	mu.Lock()
	defer mu.Unlock()

	status, txRef, err := o.repayLocked(ctx, opLogger, id, amount)
	o.journal(opLogger, types.OpRepay, string(id), amount.String(), txRef, err)
	return status, err
}

func (o *Orchestrator) repayLocked(ctx context.Context, opLogger zerolog.Logger, id types.AgentID, amount sdkmath.Int) (types.AgentStatus, string, error) {
	if _, err := o.ensureActiveLocked(ctx, opLogger, id); err != nil {
		return types.AgentStatus{}, "", err
	}

	rcpt, applied, err := o.backend.Repay(ctx, id, amount)
	if err != nil {
		return types.AgentStatus{}, "", err
	}

	opLogger.Info().
		Str("requested", amount.String()).
		Str("applied", applied.String()).
		Str("txRef", rcpt.TxRef).
		Msg("Repayment confirmed")

	if err := o.growLimitLocked(ctx, opLogger, id); err != nil {
		// Growth is policy sugar on top of a repayment that already
		// committed; a failed growth write must not fail the repay.
		opLogger.Error().Err(err).Msg("Credit limit growth failed after repayment")
	}

	status, err := o.freshStatus(ctx, id)
	if err != nil {
		return types.AgentStatus{}, rcpt.TxRef, err
	}
	return status, rcpt.TxRef, nil
}

// growLimitLocked applies one multiplicative limit-growth step.
func (o *Orchestrator) growLimitLocked(ctx context.Context, opLogger zerolog.Logger, id types.AgentID) error {
	acct, exists, err := o.backend.AgentState(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read state for limit growth: %w", err)
	}
	if !exists || !acct.Active {
		return ledger.ErrNotActive
	}

	newLimit, err := utils.ApplyBasisPoints(acct.CreditLimit, o.params.GrowthFactorBP)
	if err != nil {
		return err
	}
	if newLimit.GT(o.params.MaxLimit) {
		newLimit = o.params.MaxLimit
	}
	if !newLimit.GT(acct.CreditLimit) {
		return nil
	}

	rcpt, err := o.backend.SetCreditLimit(ctx, id, newLimit)
	if err != nil {
		return err
	}

	opLogger.Info().
		Str("oldLimit", acct.CreditLimit.String()).
		Str("newLimit", newLimit.String()).
		Str("txRef", rcpt.TxRef).
		Msg("Credit limit grown after repayment")
	return nil
}

// HandleFreeze blocks further borrowing for the agent. Repayment stays open.
func (o *Orchestrator) HandleFreeze(ctx context.Context, id types.AgentID) error {
	return o.setFrozen(ctx, id, true)
}

// HandleUnfreeze re-enables borrowing.
func (o *Orchestrator) HandleUnfreeze(ctx context.Context, id types.AgentID) error {
	return o.setFrozen(ctx, id, false)
}

func (o *Orchestrator) setFrozen(ctx context.Context, id types.AgentID, frozen bool) error {
	kind := types.OpFreeze
	if !frozen {
		kind = types.OpUnfreeze
	}
	opLogger := o.opLogger(string(kind), string(id))

	mu := o.lockFor(string(id))
	mu.Lock()
	defer mu.Unlock()

	var rcpt backend.Receipt
	var err error
	if frozen {
		rcpt, err = o.backend.Freeze(ctx, id)
	} else {
		rcpt, err = o.backend.Unfreeze(ctx, id)
	}
	o.journal(opLogger, kind, string(id), "", rcpt.TxRef, err)
	return err
}

// GetStatus reports the agent's current position, auto-onboarding the
// identity on first contact. The reported debt includes a projection of
// interest pending since the last accrual; authoritative state is not
// mutated by a status read.
func (o *Orchestrator) GetStatus(ctx context.Context, id types.AgentID) (types.AgentStatus, error) {
	opLogger := o.opLogger("status", string(id))

	mu := o.lockFor(string(id))
	mu.Lock()
	defer mu.Unlock()

	if _, err := o.ensureActiveLocked(ctx, opLogger, id); err != nil {
		return types.AgentStatus{}, err
	}
	return o.freshStatus(ctx, id)
}

// PeekStatus reports the agent's position without auto-onboarding. Unknown
// identities come back with Active=false and zero balances. Used by
// read-only surfaces that must not create accounts.
func (o *Orchestrator) PeekStatus(ctx context.Context, id types.AgentID) (types.AgentStatus, error) {
	acct, exists, err := o.backend.AgentState(ctx, id)
	if err != nil {
		return types.AgentStatus{}, fmt.Errorf("failed to read agent state: %w", err)
	}
	if !exists {
		return types.AgentStatus{
			Identity:    id,
			Debt:        sdkmath.ZeroInt(),
			Principal:   sdkmath.ZeroInt(),
			CreditLimit: sdkmath.ZeroInt(),
			Available:   sdkmath.ZeroInt(),
			AsOf:        time.Now().UTC(),
		}, nil
	}
	return o.statusFromAccount(acct), nil
}

// PoolStatus reports the vault-wide totals from the last confirmed backend
// state.
func (o *Orchestrator) PoolStatus(ctx context.Context) (types.PoolState, error) {
	return o.backend.PoolState(ctx)
}

// HandleDeposit adds provider liquidity to the vault.
func (o *Orchestrator) HandleDeposit(ctx context.Context, provider types.ProviderID, amount sdkmath.Int) (types.DepositResult, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.DepositResult{}, ErrInvalidAmount
	}
	opLogger := o.opLogger("deposit", string(provider))

	mu := o.lockFor(string(provider))
	mu.Lock()
	defer mu.Unlock()

	rcpt, shares, err := o.backend.Deposit(ctx, provider, amount)
	o.journal(opLogger, types.OpDeposit, string(provider), amount.String(), rcpt.TxRef, err)
	if err != nil {
		return types.DepositResult{}, err
	}

	opLogger.Info().
		Str("amount", amount.String()).
		Str("sharesMinted", shares.String()).
		Msg("Deposit confirmed")
	return types.DepositResult{Provider: provider, SharesMinted: shares, TxRef: rcpt.TxRef}, nil
}

// HandleWithdraw redeems provider shares for vault assets.
func (o *Orchestrator) HandleWithdraw(ctx context.Context, provider types.ProviderID, shares sdkmath.Int) (types.WithdrawResult, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return types.WithdrawResult{}, ErrInvalidAmount
	}
	opLogger := o.opLogger("withdraw", string(provider))

	mu := o.lockFor(string(provider))
	mu.Lock()
	defer mu.Unlock()

	rcpt, assets, err := o.backend.Withdraw(ctx, provider, shares)
	o.journal(opLogger, types.OpWithdraw, string(provider), shares.String(), rcpt.TxRef, err)
	if err != nil {
		return types.WithdrawResult{}, err
	}

	opLogger.Info().
		Str("sharesBurned", shares.String()).
		Str("assetsReleased", assets.String()).
		Msg("Withdrawal confirmed")
	return types.WithdrawResult{Provider: provider, AssetsReleased: assets, TxRef: rcpt.TxRef}, nil
}

// Reconcile refreshes the cached snapshot for an identity from a fresh
// backend read. Callers invoke it after a confirmation wait times out, when
// neither success nor failure may be assumed.
func (o *Orchestrator) Reconcile(ctx context.Context, id types.AgentID) (types.AgentStatus, error) {
	mu := o.lockFor(string(id))
	mu.Lock()
	defer mu.Unlock()
	return o.freshStatus(ctx, id)
}

// ensureActiveLocked guarantees the identity has an active account,
// auto-onboarding with the identity itself as the default reputation handle
// when none exists. After submitting the onboarding write it polls the
// backend with exponential backoff until the account is durably visible; a
// still-inactive account at the deadline is a hard OnboardingTimeout, never
// a silent proceed on an unverified assumption.
func (o *Orchestrator) ensureActiveLocked(ctx context.Context, opLogger zerolog.Logger, id types.AgentID) (types.AgentAccount, error) {
	acct, exists, err := o.backend.AgentState(ctx, id)
	if err != nil {
		return types.AgentAccount{}, fmt.Errorf("failed to read agent state: %w", err)
	}
	if exists && acct.Active {
		return acct, nil
	}

	opLogger.Info().Msg("Agent not active, auto-onboarding")
	if _, _, err := o.onboardLocked(ctx, opLogger, id, string(id)); err != nil {
		return types.AgentAccount{}, err
	}

	deadline := time.Now().Add(o.params.OnboardTimeout)
	for attempt := 0; ; attempt++ {
		acct, exists, err = o.backend.AgentState(ctx, id)
		if err == nil && exists && acct.Active {
			opLogger.Debug().Int("attempt", attempt).Msg("Auto-onboarding confirmed")
			return acct, nil
		}
		if err != nil {
			opLogger.Warn().Err(err).Int("attempt", attempt).Msg("State read failed while confirming onboarding")
		}

		delay := o.params.OnboardPollInterval << attempt
		if delay > maxOnboardPollDelay || delay <= 0 {
			delay = maxOnboardPollDelay
		}
		if time.Now().Add(delay).After(deadline) {
			return types.AgentAccount{}, fmt.Errorf("%w: agent %s not visible after %s", ErrOnboardingTimeout, id, o.params.OnboardTimeout)
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return types.AgentAccount{}, err
		}
	}
}

// freshStatus reads authoritative state and persists it as the new cached
// snapshot.
func (o *Orchestrator) freshStatus(ctx context.Context, id types.AgentID) (types.AgentStatus, error) {
	acct, exists, err := o.backend.AgentState(ctx, id)
	if err != nil {
		return types.AgentStatus{}, fmt.Errorf("failed to read agent state: %w", err)
	}
	if !exists {
		return types.AgentStatus{}, ledger.ErrNotActive
	}

	status := o.statusFromAccount(acct)
	o.snapshot(status)
	return status, nil
}

func (o *Orchestrator) statusFromAccount(acct types.AgentAccount) types.AgentStatus {
	now := time.Now().UTC()
	return types.AgentStatus{
		Identity:    acct.ID,
		Debt:        ledger.ProjectDebt(acct, o.params.InterestRateBP, o.params.AccrualInterval, now),
		Principal:   acct.Principal,
		CreditLimit: acct.CreditLimit,
		Available:   acct.AvailableCredit(),
		Frozen:      acct.Frozen,
		Active:      acct.Active,
		AsOf:        now,
	}
}

// opLogger builds a logger carrying a unique operation id for tracing one
// request across the engine.
func (o *Orchestrator) opLogger(op, identity string) zerolog.Logger {
	return o.logger.With().
		Str("op", op).
		Str("op_id", uuid.New().String()).
		Str("identity", identity).
		Logger()
}

// journal records the operation outcome best-effort. Journal trouble is
// logged and swallowed; the operation result stands on its own.
func (o *Orchestrator) journal(opLogger zerolog.Logger, kind types.OperationKind, identity, amount, txRef string, opErr error) {
	record := types.OperationRecord{
		OpID:      uuid.New().String(),
		Kind:      kind,
		Identity:  identity,
		Amount:    amount,
		Outcome:   "ok",
		TxRef:     txRef,
		Timestamp: time.Now().UTC(),
	}
	if opErr != nil {
		record.Outcome = "error"
		record.ErrorText = opErr.Error()
	}
	if _, err := state.RecordOperation(record); err != nil {
		opLogger.Debug().Err(err).Msg("Operation journal write skipped")
	}
}

// snapshot persists a cached account view best-effort.
func (o *Orchestrator) snapshot(status types.AgentStatus) {
	snap := types.AccountSnapshot{
		Identity:    status.Identity,
		Principal:   status.Principal.String(),
		Debt:        status.Debt.String(),
		CreditLimit: status.CreditLimit.String(),
		Available:   status.Available.String(),
		Frozen:      status.Frozen,
		Active:      status.Active,
		CapturedAt:  status.AsOf,
	}
	if _, err := state.SaveAccountSnapshot(snap); err != nil {
		o.logger.Debug().Err(err).Str("identity", string(status.Identity)).Msg("Account snapshot write skipped")
	}
}

// sleepWithContext sleeps for the duration but respects context
// cancellation.
func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
