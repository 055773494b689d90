// ABOUTME: Tests for the bridge invoke protocol and connection lifecycle.
// ABOUTME: Covers fast failure on unreachable nodes, mid-call drops, timeouts, and reconnects.

package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth-gateway/internal/protocol"
)

// fakeSender captures invocation pushes; tests reply through the
// connection's HandleResult like the real read loop does.
type fakeSender struct {
	mu     sync.Mutex
	pushes []*protocol.InvokePush
	err    error
}

func (f *fakeSender) SendInvoke(push *protocol.InvokePush) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, push)
	return nil
}

func (f *fakeSender) last(t *testing.T) *protocol.InvokePush {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.pushes)
	return f.pushes[len(f.pushes)-1]
}

func TestManager_Invoke_NotConnectedFailsFast(t *testing.T) {
	m := NewManager(nil)

	start := time.Now()
	_, perr := m.Invoke(context.Background(), "node-1", "camera.snap", nil, 30*time.Second)
	elapsed := time.Since(start)

	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeUnavailable, perr.Code)
	assert.Less(t, elapsed, time.Second, "unreachable node must fail immediately, not after the timeout")
}

func TestManager_Invoke_RoundTrip(t *testing.T) {
	m := NewManager(nil)
	sender := &fakeSender{}
	conn := NewConnection("node-1", sender, nil)
	m.Register(conn)

	done := make(chan *Result, 1)
	go func() {
		res, perr := m.Invoke(context.Background(), "node-1", "light.on", json.RawMessage(`{"room":"kitchen"}`), 5*time.Second)
		if perr == nil {
			done <- res
		}
	}()

	// Wait for the push, then reply like a device would.
	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.pushes) == 1
	}, time.Second, 5*time.Millisecond)

	push := sender.last(t)
	assert.Equal(t, "light.on", push.Command)
	conn.HandleResult(push.ID, &Result{OK: true, PayloadJSON: json.RawMessage(`{"on":true}`)})

	select {
	case res := <-done:
		assert.True(t, res.OK)
		assert.JSONEq(t, `{"on":true}`, string(res.PayloadJSON))
	case <-time.After(time.Second):
		t.Fatal("invoke did not resolve after the device replied")
	}
}

func TestManager_Invoke_DisconnectMidCallFailsImmediately(t *testing.T) {
	m := NewManager(nil)
	sender := &fakeSender{}
	conn := NewConnection("node-1", sender, nil)
	m.Register(conn)

	type outcome struct {
		perr    *protocol.Error
		elapsed time.Duration
	}
	done := make(chan outcome, 1)
	go func() {
		start := time.Now()
		_, perr := m.Invoke(context.Background(), "node-1", "slow.op", nil, 30*time.Second)
		done <- outcome{perr: perr, elapsed: time.Since(start)}
	}()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.pushes) == 1
	}, time.Second, 5*time.Millisecond)

	m.Unregister(conn)

	select {
	case out := <-done:
		require.NotNil(t, out.perr)
		assert.Equal(t, protocol.CodeUnavailable, out.perr.Code)
		assert.Less(t, out.elapsed, 5*time.Second, "drop must not wait out the full timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("invoke did not fail after disconnect")
	}
}

func TestManager_Invoke_Timeout(t *testing.T) {
	m := NewManager(nil)
	conn := NewConnection("node-1", &fakeSender{}, nil)
	m.Register(conn)

	start := time.Now()
	_, perr := m.Invoke(context.Background(), "node-1", "never.replies", nil, 50*time.Millisecond)

	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeUnavailable, perr.Code)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestManager_Invoke_SendFailure(t *testing.T) {
	m := NewManager(nil)
	conn := NewConnection("node-1", &fakeSender{err: context.Canceled}, nil)
	m.Register(conn)

	_, perr := m.Invoke(context.Background(), "node-1", "x", nil, time.Second)
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeUnavailable, perr.Code)
}

func TestManager_ReconnectReplacesConnection(t *testing.T) {
	m := NewManager(nil)
	first := NewConnection("node-1", &fakeSender{}, nil)
	m.Register(first)

	second := NewConnection("node-1", &fakeSender{}, nil)
	m.Register(second)

	assert.True(t, m.Connected("node-1"))

	// A stale unregister from the first connection must not knock out the
	// replacement.
	m.Unregister(first)
	assert.True(t, m.Connected("node-1"))

	m.Unregister(second)
	assert.False(t, m.Connected("node-1"))
}

func TestConnection_LateResultDiscarded(t *testing.T) {
	conn := NewConnection("node-1", &fakeSender{}, nil)

	// No pending invocation: the reply is dropped without panic.
	conn.HandleResult("ghost", &Result{OK: true})
}

func TestManager_List(t *testing.T) {
	m := NewManager(nil)
	m.Register(NewConnection("a", &fakeSender{}, nil))
	m.Register(NewConnection("b", &fakeSender{}, nil))

	assert.ElementsMatch(t, []string{"a", "b"}, m.List())
}
