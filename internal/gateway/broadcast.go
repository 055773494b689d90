// ABOUTME: Fan-out of push frames to every connected RPC listener.
// ABOUTME: Slow listeners drop frames rather than block the publisher.

package gateway

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/hearth-gateway/internal/protocol"
)

// Broadcaster delivers out-of-band push frames (pairing events, run
// replacements) to every subscribed connection. Publishing never blocks:
// a subscriber whose buffer is full misses the frame.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan *protocol.Push
	closed bool
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]chan *protocol.Push),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a listener and returns its ID and frame channel.
// The channel is closed by Close or Unsubscribe.
func (b *Broadcaster) Subscribe() (string, <-chan *protocol.Push) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan *protocol.Push, 16)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel. Unknown IDs are
// ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Broadcast sends a push frame to every subscriber.
func (b *Broadcaster) Broadcast(event string, payload any) {
	push := &protocol.Push{Event: event, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- push:
		default:
			b.logger.Warn("push dropped, subscriber buffer full",
				"subscriber_id", id, "event", event)
		}
	}
}

// Close shuts every subscriber channel. Further Broadcast calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
