package reputation

import (
	"context"
	"sync"

	"github.com/agentfi/ace/internal/types"
)

// Feed is the read-only reputation collaborator. Implementations may be
// unavailable at any time; callers must treat every failure as "no
// feedback", never as a hard error.
type Feed interface {
	// ResolveIdentity maps an external handle to the feed's internal
	// subject id. ok is false when the handle has no resolvable entry.
	ResolveIdentity(ctx context.Context, handle string) (subject string, ok bool, err error)

	// FeedbackSince returns the subject's feedback events inside the
	// bounded trailing lookback window, ordered by timestamp ascending.
	// History older than the window is invisible by design.
	FeedbackSince(ctx context.Context, subject string, lookbackBlocks uint64) ([]types.FeedbackEvent, error)
}

// MemoryFeed is an in-process feed used by the local mode and tests.
type MemoryFeed struct {
	mu       sync.Mutex
	handles  map[string]string
	feedback map[string][]types.FeedbackEvent
	failWith error
}

// NewMemoryFeed creates an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		handles:  make(map[string]string),
		feedback: make(map[string][]types.FeedbackEvent),
	}
}

// Register binds a handle to a subject id.
func (f *MemoryFeed) Register(handle, subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles[handle] = subject
}

// AddFeedback appends a feedback event for a subject.
func (f *MemoryFeed) AddFeedback(subject string, events ...types.FeedbackEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback[subject] = append(f.feedback[subject], events...)
}

// FailWith makes every subsequent call return err, simulating an
// unreachable feed. Pass nil to restore normal operation.
func (f *MemoryFeed) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

// ResolveIdentity implements Feed.
func (f *MemoryFeed) ResolveIdentity(_ context.Context, handle string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", false, f.failWith
	}
	subject, ok := f.handles[handle]
	return subject, ok, nil
}

// FeedbackSince implements Feed. The lookback window is ignored by the
// in-memory feed, which only ever holds recent events.
func (f *MemoryFeed) FeedbackSince(_ context.Context, subject string, _ uint64) ([]types.FeedbackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	events := f.feedback[subject]
	out := make([]types.FeedbackEvent, len(events))
	copy(out, events)
	return out, nil
}
