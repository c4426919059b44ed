/*

This file contains the reputation factor strategies: the mapping from an
external, untrusted feedback history to the bounded multiplier used for
credit sizing.

Two strategies exist and do not mix. The feed-average strategy derives the
factor from raw feedback scores pulled from the reputation feed; the
composite strategy derives it from structured inputs (completion counts,
account age, slashes). The caller picks one explicitly at construction.

*/

package reputation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/types"
)

// NeutralFactor is the default multiplier applied when no reputation signal
// is available.
const NeutralFactor = 1.0

// FactorRequest carries the inputs a strategy may use. Handle feeds the
// feed-average strategy; Profile feeds the composite strategy. A strategy
// ignores the inputs it does not consume.
type FactorRequest struct {
	Handle  string
	Profile *types.AgentProfile
}

// Strategy converts a factor request into a bounded multiplier. FactorFor
// never fails hard: any degradation of the underlying signal collapses to
// the neutral default.
type Strategy interface {
	Name() string
	FactorFor(ctx context.Context, req FactorRequest) float64
}

// Bounds clamp the factor produced by every strategy.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds is the [0.1, 3.0] clamp from the credit policy.
var DefaultBounds = Bounds{Min: 0.1, Max: 3.0}

func (b Bounds) clamp(factor float64) float64 {
	if factor < b.Min {
		return b.Min
	}
	if factor > b.Max {
		return b.Max
	}
	return factor
}

// FeedAverageStrategy computes average(scores)/100 over the feed's bounded
// lookback window.
type FeedAverageStrategy struct {
	feed           Feed
	lookbackBlocks uint64
	bounds         Bounds
	logger         zerolog.Logger
}

// NewFeedAverageStrategy creates the feed-backed strategy. The feed is an
// injected dependency; there is no process-wide reader.
func NewFeedAverageStrategy(feed Feed, lookbackBlocks uint64, bounds Bounds) *FeedAverageStrategy {
	return &FeedAverageStrategy{
		feed:           feed,
		lookbackBlocks: lookbackBlocks,
		bounds:         bounds,
		logger:         logger.GetForComponent("rep_feed_average"),
	}
}

// Name implements Strategy.
func (s *FeedAverageStrategy) Name() string { return "feed_average" }

// FactorFor implements Strategy. Resolution order: unresolvable handle →
// neutral; zero feedback in the window → neutral; otherwise the clamped
// average. Feed unavailability is logged and treated exactly like "no
// feedback".
func (s *FeedAverageStrategy) FactorFor(ctx context.Context, req FactorRequest) float64 {
	if req.Handle == "" {
		return NeutralFactor
	}

	subject, ok, err := s.feed.ResolveIdentity(ctx, req.Handle)
	if err != nil {
		s.logger.Warn().Err(err).Str("handle", req.Handle).Msg("Reputation feed unavailable during resolve, using neutral factor")
		return NeutralFactor
	}
	if !ok {
		return NeutralFactor
	}

	events, err := s.feed.FeedbackSince(ctx, subject, s.lookbackBlocks)
	if err != nil {
		s.logger.Warn().Err(err).Str("handle", req.Handle).Msg("Reputation feed unavailable during feedback query, using neutral factor")
		return NeutralFactor
	}
	if len(events) == 0 {
		return NeutralFactor
	}

	var sum float64
	for _, ev := range events {
		sum += float64(ev.Score)
	}
	average := sum / float64(len(events))
	factor := s.bounds.clamp(average / 100.0)

	s.logger.Debug().
		Str("handle", req.Handle).
		Int("feedbackCount", len(events)).
		Float64("averageScore", average).
		Float64("factor", factor).
		Msg("Feed-average reputation factor computed")
	return factor
}

// Snapshot computes the derived reputation view for reporting. It shares
// the degradation rules of FactorFor.
func (s *FeedAverageStrategy) Snapshot(ctx context.Context, handle string) types.ReputationSnapshot {
	snap := types.ReputationSnapshot{Handle: handle}

	subject, ok, err := s.feed.ResolveIdentity(ctx, handle)
	if err != nil || !ok {
		return snap
	}
	snap.Resolved = true

	events, err := s.feed.FeedbackSince(ctx, subject, s.lookbackBlocks)
	if err != nil || len(events) == 0 {
		return snap
	}

	var sum float64
	for _, ev := range events {
		sum += float64(ev.Score)
	}
	snap.FeedbackCount = len(events)
	snap.AverageScore = sum / float64(len(events))
	return snap
}

// Composite strategy tier thresholds.
const (
	completionTierHigh = 0.99
	completionTierMid  = 0.95
	completionTierLow  = 0.90

	ageBonusLongDays  = 180
	ageBonusShortDays = 90

	slashPenaltyStep = 0.25
	slashPenaltyCap  = 1.0
)

// CompositeStrategy scores structured agent inputs locally without touching
// the feed: base 1.0, plus a tiered completion-rate bonus and an account-age
// bonus, minus a capped slash penalty.
type CompositeStrategy struct {
	bounds Bounds
	now    func() time.Time
	logger zerolog.Logger
}

// NewCompositeStrategy creates the structured-input strategy.
func NewCompositeStrategy(bounds Bounds) *CompositeStrategy {
	return &CompositeStrategy{
		bounds: bounds,
		now:    time.Now,
		logger: logger.GetForComponent("rep_composite"),
	}
}

// SetClock overrides the time source. Intended for tests only.
func (s *CompositeStrategy) SetClock(now func() time.Time) { s.now = now }

// Name implements Strategy.
func (s *CompositeStrategy) Name() string { return "composite" }

// FactorFor implements Strategy. A missing profile yields the neutral
// default.
func (s *CompositeStrategy) FactorFor(_ context.Context, req FactorRequest) float64 {
	if req.Profile == nil {
		return NeutralFactor
	}
	profile := *req.Profile

	factor := NeutralFactor

	switch rate := profile.CompletionRate(); {
	case rate >= completionTierHigh:
		factor += 1.0
	case rate >= completionTierMid:
		factor += 0.5
	case rate >= completionTierLow:
		factor += 0.25
	}

	if !profile.CreatedAt.IsZero() {
		ageDays := s.now().Sub(profile.CreatedAt).Hours() / 24
		switch {
		case ageDays >= ageBonusLongDays:
			factor += 0.5
		case ageDays >= ageBonusShortDays:
			factor += 0.25
		}
	}

	penalty := float64(profile.SlashCount) * slashPenaltyStep
	if penalty > slashPenaltyCap {
		penalty = slashPenaltyCap
	}
	factor -= penalty

	clamped := s.bounds.clamp(factor)

	s.logger.Debug().
		Float64("completionRate", profile.CompletionRate()).
		Uint32("slashCount", profile.SlashCount).
		Float64("factor", clamped).
		Msg("Composite reputation factor computed")
	return clamped
}
