// ABOUTME: Manages live device connections and the timed invoke protocol.
// ABOUTME: Invocations fail fast with UNAVAILABLE when the node is not reachable.

package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hearth-gateway/internal/protocol"
)

// Invoke timeout bounds. Explicit timeouts are clamped to the cap and
// never silently extended.
const (
	DefaultInvokeTimeout = 15 * time.Second
	MaxInvokeTimeout     = 60 * time.Second
)

// Manager tracks which paired nodes currently have a live connection and
// performs correlated request/response invocations against them.
type Manager struct {
	mu     sync.RWMutex
	nodes  map[string]*Connection
	logger *slog.Logger

	// onChange is invoked with the connected-node count after every
	// register/unregister, for metrics export.
	onChange func(connected int)
}

// NewManager creates a Manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		nodes:  make(map[string]*Connection),
		logger: logger.With("component", "bridge-manager"),
	}
}

// SetOnChange installs the connected-count hook. Must be set before use.
func (m *Manager) SetOnChange(fn func(connected int)) {
	m.onChange = fn
}

// Register adds a device connection. A reconnect for the same node
// replaces the previous connection, failing its pending invocations.
func (m *Manager) Register(conn *Connection) {
	m.mu.Lock()
	old := m.nodes[conn.NodeID]
	m.nodes[conn.NodeID] = conn
	count := len(m.nodes)
	m.mu.Unlock()

	if old != nil {
		old.Close()
		m.logger.Info("node reconnected", "node_id", conn.NodeID)
	} else {
		m.logger.Info("node connected", "node_id", conn.NodeID, "total_nodes", count)
	}
	m.notify(count)
}

// Unregister removes a device connection and fails its pending
// invocations. Only the currently registered connection is removed, so a
// stale disconnect arriving after a reconnect is harmless.
func (m *Manager) Unregister(conn *Connection) {
	m.mu.Lock()
	cur, ok := m.nodes[conn.NodeID]
	if ok && cur == conn {
		delete(m.nodes, conn.NodeID)
	}
	count := len(m.nodes)
	m.mu.Unlock()

	conn.Close()
	if ok && cur == conn {
		m.logger.Info("node disconnected", "node_id", conn.NodeID, "total_nodes", count)
		m.notify(count)
	}
}

func (m *Manager) notify(count int) {
	if m.onChange != nil {
		m.onChange(count)
	}
}

// Connected reports whether a node currently has a live connection.
func (m *Manager) Connected(nodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[nodeID]
	return ok
}

// Get returns the live connection for a node, if any.
func (m *Manager) Get(nodeID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.nodes[nodeID]
	return conn, ok
}

// List returns the IDs of all connected nodes.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Invoke calls a capability on a connected node and waits up to timeout
// for the correlated reply.
//
// Failure semantics: no live connection fails immediately with
// UNAVAILABLE (pairing establishes trust, connection establishes
// reachability); a connection dropping mid-call also fails immediately
// rather than waiting out the timeout. The timeout itself surfaces as
// UNAVAILABLE since the node may still be reachable for a retry.
func (m *Manager) Invoke(ctx context.Context, nodeID, command string, params json.RawMessage, timeout time.Duration) (*Result, *protocol.Error) {
	conn, ok := m.Get(nodeID)
	if !ok {
		return nil, protocol.Unavailable("node %s not connected", nodeID)
	}

	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	if timeout > MaxInvokeTimeout {
		timeout = MaxInvokeTimeout
	}

	id := uuid.New().String()
	ch, alive := conn.createInvocation(id)
	if !alive {
		return nil, protocol.Unavailable("node %s not connected", nodeID)
	}
	defer conn.closeInvocation(id)

	if err := conn.sender.SendInvoke(&protocol.InvokePush{
		ID:         id,
		Command:    command,
		ParamsJSON: params,
	}); err != nil {
		return nil, protocol.Unavailable("sending to node %s: %v", nodeID, err)
	}

	m.logger.Debug("invocation sent",
		"node_id", nodeID,
		"invocation_id", id,
		"command", command,
		"timeout", timeout,
	)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res, open := <-ch:
		if !open {
			return nil, protocol.Unavailable("node %s disconnected", nodeID)
		}
		return res, nil
	case <-timer.C:
		return nil, protocol.Unavailable("node %s did not reply within %s", nodeID, timeout)
	case <-ctx.Done():
		return nil, protocol.Unavailable("invocation cancelled: %v", ctx.Err())
	}
}
