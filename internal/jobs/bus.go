// ABOUTME: In-memory fan-out bus for terminal job events keyed by run ID.
// ABOUTME: Waiters subscribe for one run and receive each settle event at most once.

package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	// Terminal events are rare per run; a small buffer absorbs the
	// publish/consume race without blocking the publisher.
	subscriberBufferSize = 4
)

// Bus provides in-memory pub/sub for job settle events. Waiters subscribe
// for a run ID and receive its terminal snapshots as they are recorded.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Snapshot // runID -> subID -> ch
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]chan *Snapshot),
		logger:      logger.With("component", "job-bus"),
	}
}

// Subscribe registers a subscriber for settle events of the given run.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Bus) Subscribe(ctx context.Context, runID string) (<-chan *Snapshot, string) {
	subID := uuid.New().String()
	ch := make(chan *Snapshot, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[runID]; !ok {
		b.subscribers[runID] = make(map[string]chan *Snapshot)
	}
	b.subscribers[runID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "run_id", runID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(runID, subID)
	}()

	return ch, subID
}

// Publish sends a settle event to all subscribers of the given run.
// Non-blocking: events are dropped for subscribers whose channels are full.
// The read lock is held across the sends so an Unsubscribe cannot close a
// channel mid-publish; the sends never block, so the hold is brief.
func (b *Bus) Publish(runID string, snap *Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[runID] {
		select {
		case ch <- snap:
		default:
			b.logger.Debug("dropped settle event for slow subscriber", "run_id", runID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel. Calling it
// more than once for the same subscription is a no-op, so the event path
// and the timeout path can both release without coordination.
func (b *Bus) Unsubscribe(runID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[runID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, runID)
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for runID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, runID)
	}

	b.logger.Debug("job bus closed")
}
