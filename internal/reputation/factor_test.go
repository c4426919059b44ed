package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentfi/ace/internal/types"
)

func TestFeedAverageNeutralDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	feed := NewMemoryFeed()
	s := NewFeedAverageStrategy(feed, 1000, DefaultBounds)

	// Empty handle.
	assert.Equal(t, NeutralFactor, s.FactorFor(ctx, FactorRequest{}))

	// Unresolvable handle.
	assert.Equal(t, NeutralFactor, s.FactorFor(ctx, FactorRequest{Handle: "ghost"}))

	// Resolvable handle with zero feedback in the window.
	feed.Register("fresh", "0xfresh")
	assert.Equal(t, NeutralFactor, s.FactorFor(ctx, FactorRequest{Handle: "fresh"}))
}

func TestFeedAverageDegradesToNeutralOnFeedFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	feed := NewMemoryFeed()
	feed.Register("agent", "0xagent")
	feed.AddFeedback("0xagent", types.FeedbackEvent{Score: 5, Timestamp: time.Now()})
	s := NewFeedAverageStrategy(feed, 1000, DefaultBounds)

	feed.FailWith(errors.New("rpc unreachable"))
	assert.Equal(t, NeutralFactor, s.FactorFor(ctx, FactorRequest{Handle: "agent"}))

	// Recovery uses the real signal again.
	feed.FailWith(nil)
	assert.InDelta(t, 0.1, s.FactorFor(ctx, FactorRequest{Handle: "agent"}), 1e-9)
}

func TestFeedAverageComputesClampedAverage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name   string
		scores []uint8
		bounds Bounds
		want   float64
	}{
		{name: "plain average", scores: []uint8{80, 90}, bounds: DefaultBounds, want: 0.85},
		{name: "perfect score", scores: []uint8{100, 100, 100}, bounds: DefaultBounds, want: 1.0},
		{name: "clamped at lower bound", scores: []uint8{1}, bounds: DefaultBounds, want: 0.1},
		{name: "clamped at upper bound", scores: []uint8{90}, bounds: Bounds{Min: 0.1, Max: 0.5}, want: 0.5},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			feed := NewMemoryFeed()
			feed.Register("agent", "0xagent")
			for _, score := range tc.scores {
				feed.AddFeedback("0xagent", types.FeedbackEvent{Score: score, Timestamp: now})
			}

			s := NewFeedAverageStrategy(feed, 1000, tc.bounds)
			assert.InDelta(t, tc.want, s.FactorFor(ctx, FactorRequest{Handle: "agent"}), 1e-9)
		})
	}
}

func TestFeedAverageSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	feed := NewMemoryFeed()
	feed.Register("agent", "0xagent")
	feed.AddFeedback("0xagent",
		types.FeedbackEvent{Score: 60, Timestamp: time.Now()},
		types.FeedbackEvent{Score: 80, Timestamp: time.Now()},
	)
	s := NewFeedAverageStrategy(feed, 1000, DefaultBounds)

	snap := s.Snapshot(ctx, "agent")
	assert.True(t, snap.Resolved)
	assert.Equal(t, 2, snap.FeedbackCount)
	assert.InDelta(t, 70.0, snap.AverageScore, 1e-9)

	ghost := s.Snapshot(ctx, "ghost")
	assert.False(t, ghost.Resolved)
	assert.Zero(t, ghost.FeedbackCount)
}

func TestCompositeNeutralWithoutProfile(t *testing.T) {
	t.Parallel()

	s := NewCompositeStrategy(DefaultBounds)
	assert.Equal(t, NeutralFactor, s.FactorFor(context.Background(), FactorRequest{Handle: "ignored"}))
}

func TestCompositeTiersAndPenalties(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		profile types.AgentProfile
		want    float64
	}{
		{
			name:    "veteran with perfect record",
			profile: types.AgentProfile{CompletedTasks: 100, CreatedAt: now.AddDate(0, 0, -200)},
			want:    2.5, // 1.0 base + 1.0 completion + 0.5 age
		},
		{
			name:    "mid completion tier",
			profile: types.AgentProfile{CompletedTasks: 96, FailedTasks: 4},
			want:    1.5,
		},
		{
			name:    "low completion tier with some age",
			profile: types.AgentProfile{CompletedTasks: 91, FailedTasks: 9, CreatedAt: now.AddDate(0, 0, -100)},
			want:    1.5, // 1.0 base + 0.25 completion + 0.25 age
		},
		{
			name:    "below all completion tiers",
			profile: types.AgentProfile{CompletedTasks: 1, FailedTasks: 1},
			want:    1.0,
		},
		{
			name:    "no history at all",
			profile: types.AgentProfile{},
			want:    1.0,
		},
		{
			name:    "two slashes",
			profile: types.AgentProfile{CompletedTasks: 100, SlashCount: 2},
			want:    1.5, // 1.0 base + 1.0 completion - 0.5 penalty
		},
		{
			name:    "slash penalty capped at one",
			profile: types.AgentProfile{CompletedTasks: 100, SlashCount: 50},
			want:    1.0, // 1.0 base + 1.0 completion - 1.0 capped penalty
		},
		{
			name:    "clamped at lower bound",
			profile: types.AgentProfile{FailedTasks: 10, SlashCount: 4},
			want:    0.1, // 1.0 base - 1.0 penalty clamps up to 0.1
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewCompositeStrategy(DefaultBounds)
			s.SetClock(func() time.Time { return now })

			got := s.FactorFor(context.Background(), FactorRequest{Profile: &tc.profile})
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestStrategyNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "feed_average", NewFeedAverageStrategy(NewMemoryFeed(), 0, DefaultBounds).Name())
	assert.Equal(t, "composite", NewCompositeStrategy(DefaultBounds).Name())
}
