// ABOUTME: Represents a single connected paired device and its in-flight invocations.
// ABOUTME: Routes correlated results by invocation ID and fails everything on close.

package bridge

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/hearth-gateway/internal/protocol"
)

// Sender delivers an invocation push to the device over its live channel.
// The gateway's connection layer implements this per WebSocket session.
type Sender interface {
	SendInvoke(push *protocol.InvokePush) error
}

// Result is a device's reply to one invocation.
type Result struct {
	OK          bool
	PayloadJSON json.RawMessage
	Error       string
}

// Connection represents a connected paired device. It tracks pending
// invocations so correlated replies resolve the right caller, and closing
// it fails every pending invocation immediately.
type Connection struct {
	NodeID string

	sender  Sender
	mu      sync.Mutex
	pending map[string]chan *Result
	closed  bool
	logger  *slog.Logger
}

// NewConnection creates a Connection for a device that just authenticated.
func NewConnection(nodeID string, sender Sender, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		NodeID:  nodeID,
		sender:  sender,
		pending: make(map[string]chan *Result),
		logger:  logger.With("component", "bridge", "node_id", nodeID),
	}
}

// createInvocation registers a new pending invocation and returns a channel
// for its result. The channel is closed without a value if the connection
// drops. Returns false if the connection is already closed.
func (c *Connection) createInvocation(id string) (<-chan *Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	ch := make(chan *Result, 1)
	c.pending[id] = ch
	return ch, true
}

// closeInvocation removes the pending entry for an invocation without
// closing its channel (the waiter has already resolved or given up).
func (c *Connection) closeInvocation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// HandleResult routes a device reply to the pending invocation channel.
// Replies for unknown invocations (late arrivals after a timeout) are
// logged and discarded.
func (c *Connection) HandleResult(id string, res *Result) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("result for unknown invocation", "invocation_id", id)
		return
	}

	// Buffered channel of size 1; the send never blocks.
	ch <- res
}

// Close marks the connection dead and fails all pending invocations by
// closing their channels. Safe to call multiple times.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
