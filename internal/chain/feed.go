/*

This file contains the live reputation feed: an on-chain reputation registry
queried over a bounded trailing block window. Handle resolution is an
eth_call; feedback history comes from event logs. The window bound is a
deliberate tradeoff: feedback older than the lookback is treated as absent.

*/

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/types"
)

// reputationABI is the registry surface the feed consumes.
const reputationABI = `[
	{"type":"function","name":"resolve","stateMutability":"view","inputs":[{"name":"handle","type":"string"}],"outputs":[{"name":"subject","type":"address"},{"name":"exists","type":"bool"}]},
	{"type":"event","name":"FeedbackSubmitted","inputs":[{"name":"subject","type":"address","indexed":true},{"name":"score","type":"uint8","indexed":false},{"name":"timestamp","type":"uint64","indexed":false}]}
]`

// ReputationFeed implements reputation.Feed against an on-chain registry.
type ReputationFeed struct {
	eth       *ethclient.Client
	contract  *bind.BoundContract
	parsedABI abi.ABI
	address   common.Address
	logger    zerolog.Logger
}

// NewReputationFeed binds the registry contract on an existing RPC
// connection. The feed shares the clearing client's connection; closing the
// clearing client closes the feed.
func NewReputationFeed(eth *ethclient.Client, registryAddress string) (*ReputationFeed, error) {
	if eth == nil {
		return nil, errors.New("eth client is required")
	}
	if !common.IsHexAddress(registryAddress) {
		return nil, fmt.Errorf("invalid reputation registry address: %q", registryAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(reputationABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse reputation ABI: %w", err)
	}

	address := common.HexToAddress(registryAddress)
	return &ReputationFeed{
		eth:       eth,
		contract:  bind.NewBoundContract(address, parsedABI, eth, eth, eth),
		parsedABI: parsedABI,
		address:   address,
		logger:    logger.GetForComponent("reputation_feed"),
	}, nil
}

// FeedForClient builds a reputation feed on the clearing client's RPC
// connection.
func FeedForClient(c *Client, registryAddress string) (*ReputationFeed, error) {
	return NewReputationFeed(c.eth, registryAddress)
}

// ResolveIdentity implements reputation.Feed.
func (f *ReputationFeed) ResolveIdentity(ctx context.Context, handle string) (string, bool, error) {
	var out []interface{}
	err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "resolve", handle)
	if err != nil {
		return "", false, fmt.Errorf("resolve call failed: %w", err)
	}
	if len(out) != 2 {
		return "", false, fmt.Errorf("%w: resolve returned %d values", ErrBadContractData, len(out))
	}
	subject, ok1 := out[0].(common.Address)
	exists, ok2 := out[1].(bool)
	if !(ok1 && ok2) {
		return "", false, fmt.Errorf("%w: resolve type mismatch", ErrBadContractData)
	}
	if !exists {
		return "", false, nil
	}
	return subject.Hex(), true, nil
}

// FeedbackSince implements reputation.Feed: FeedbackSubmitted events for
// the subject over the trailing lookback window, ordered by timestamp.
func (f *ReputationFeed) FeedbackSince(ctx context.Context, subject string, lookbackBlocks uint64) ([]types.FeedbackEvent, error) {
	head, err := f.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain head: %w", err)
	}

	fromBlock := uint64(0)
	if head > lookbackBlocks {
		fromBlock = head - lookbackBlocks
	}

	event := f.parsedABI.Events["FeedbackSubmitted"]
	subjectTopic := common.BytesToHash(common.LeftPadBytes(common.HexToAddress(subject).Bytes(), 32))
	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{f.address},
		Topics:    [][]common.Hash{{event.ID}, {subjectTopic}},
	}

	logs, err := f.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("feedback log query failed: %w", err)
	}

	events := make([]types.FeedbackEvent, 0, len(logs))
	for _, entry := range logs {
		values, err := f.parsedABI.Unpack("FeedbackSubmitted", entry.Data)
		if err != nil || len(values) != 2 {
			f.logger.Warn().Err(err).Uint64("block", entry.BlockNumber).Msg("Skipping malformed feedback event")
			continue
		}
		score, ok1 := values[0].(uint8)
		timestamp, ok2 := values[1].(uint64)
		if !(ok1 && ok2) {
			f.logger.Warn().Uint64("block", entry.BlockNumber).Msg("Skipping feedback event with unexpected types")
			continue
		}
		if score > 100 {
			score = 100
		}
		events = append(events, types.FeedbackEvent{
			Score:     score,
			Timestamp: time.Unix(int64(timestamp), 0).UTC(),
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	f.logger.Debug().
		Str("subject", subject).
		Uint64("fromBlock", fromBlock).
		Uint64("head", head).
		Int("events", len(events)).
		Msg("Feedback window queried")
	return events, nil
}
