// ABOUTME: Tests for the pairing state machine and SQLite-backed node store.
// ABOUTME: Covers announce/re-announce, approve/reject/revoke, and token verification.

package pairing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBroadcaster captures published pairing events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, payload any) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func newTestService(t *testing.T) (*Service, *SQLiteStore, *recordingBroadcaster) {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bc := &recordingBroadcaster{}
	svc := NewService(store, NewJWTMinter([]byte("test-secret")), bc, nil)
	return svc, store, bc
}

func TestService_RequestCreatesOnePendingEntry(t *testing.T) {
	svc, _, bc := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, Announcement{NodeID: "node-1", DisplayName: "Kitchen iPad", Platform: "ios"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)
	assert.False(t, req.Repair)

	// Re-announcement updates in place: pending count stays 1, the
	// request ID is stable, metadata is refreshed.
	again, err := svc.Request(ctx, Announcement{NodeID: "node-1", DisplayName: "Hallway iPad", Platform: "ios"})
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, again.RequestID)
	assert.Equal(t, "Hallway iPad", again.DisplayName)

	pending := svc.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "Hallway iPad", pending[0].DisplayName)

	assert.Equal(t, []string{EventRequested}, bc.names(), "re-announcement must not broadcast again")
}

func TestService_ApproveRoundTrip(t *testing.T) {
	svc, store, bc := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, Announcement{NodeID: "node-1", Platform: "macos"})
	require.NoError(t, err)

	node, err := svc.Approve(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "node-1", node.NodeID)
	assert.NotEmpty(t, node.Token)

	assert.Empty(t, svc.Pending(), "approval removes the pending entry")

	// The node is persisted with its token.
	stored, err := store.GetNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, node.Token, stored.Token)

	assert.Contains(t, bc.names(), EventApproved)
}

func TestService_ApproveUnknownRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Approve(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestService_Reject(t *testing.T) {
	svc, store, bc := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, Announcement{NodeID: "node-1"})
	require.NoError(t, err)

	nodeID, err := svc.Reject(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "node-1", nodeID)
	assert.Empty(t, svc.Pending())

	_, err = store.GetNode(ctx, "node-1")
	assert.ErrorIs(t, err, ErrNodeNotFound, "rejection must not create a paired node")
	assert.Contains(t, bc.names(), EventRejected)

	_, err = svc.Reject(req.RequestID)
	assert.ErrorIs(t, err, ErrUnknownRequest, "request is consumed by rejection")
}

func TestService_RepairRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, Announcement{NodeID: "node-1"})
	require.NoError(t, err)
	first, err := svc.Approve(ctx, req.RequestID)
	require.NoError(t, err)

	// A paired node announcing again starts a repair request; approving it
	// rotates the token.
	repair, err := svc.Request(ctx, Announcement{NodeID: "node-1"})
	require.NoError(t, err)
	assert.True(t, repair.Repair)

	second, err := svc.Approve(ctx, repair.RequestID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestService_VerifyToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, Announcement{NodeID: "node-1"})
	require.NoError(t, err)
	node, err := svc.Approve(ctx, req.RequestID)
	require.NoError(t, err)

	assert.NoError(t, svc.VerifyToken(ctx, "node-1", node.Token))
	assert.Error(t, svc.VerifyToken(ctx, "node-1", "forged"))
	assert.ErrorIs(t, svc.VerifyToken(ctx, "ghost", node.Token), ErrNodeNotFound)
}

func TestService_Revoke(t *testing.T) {
	svc, _, bc := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, Announcement{NodeID: "node-1"})
	require.NoError(t, err)
	node, err := svc.Approve(ctx, req.RequestID)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, "node-1"))
	assert.ErrorIs(t, svc.VerifyToken(ctx, "node-1", node.Token), ErrNodeNotFound)
	assert.Contains(t, bc.names(), EventRevoked)

	assert.ErrorIs(t, svc.Revoke(ctx, "node-1"), ErrNodeNotFound)
}

func TestSQLiteStore_ListNodes(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	svc := NewService(store, NewJWTMinter([]byte("s")), nil, nil)

	for _, id := range []string{"a", "b", "c"} {
		req, err := svc.Request(ctx, Announcement{NodeID: id})
		require.NoError(t, err)
		_, err = svc.Approve(ctx, req.RequestID)
		require.NoError(t, err)
	}

	nodes, err := store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestJWTMinter_DistinctTokens(t *testing.T) {
	m := NewJWTMinter([]byte("secret"))

	t1, err := m.Mint("node-1")
	require.NoError(t, err)
	t2, err := m.Mint("node-1")
	require.NoError(t, err)

	assert.NotEmpty(t, t1)
	assert.NotEqual(t, t1, t2, "each mint must produce a distinct token")
}
