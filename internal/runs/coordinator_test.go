// ABOUTME: Tests for session run registration, replacement policy, and cancellation.
// ABOUTME: Covers cross-session rejection, unknown-run no-ops, and stop-all semantics.

package runs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_RegisterAndCancel(t *testing.T) {
	c := NewCoordinator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	orphaned := c.Register("session-a", "r1", cancel)
	assert.Empty(t, orphaned)

	aborted, err := c.Cancel("r1", "session-a")
	require.NoError(t, err)
	assert.True(t, aborted)
	assert.ErrorIs(t, ctx.Err(), context.Canceled, "cancellation token must be triggered")

	_, ok := c.Active("session-a")
	assert.False(t, ok, "cancelled run should be deregistered")
}

func TestCoordinator_CrossSessionCancelRejected(t *testing.T) {
	c := NewCoordinator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.Register("session-a", "r1", cancel)

	aborted, err := c.Cancel("r1", "session-b")
	assert.ErrorIs(t, err, ErrSessionMismatch)
	assert.False(t, aborted)
	assert.NoError(t, ctx.Err(), "token must not fire on a rejected cancel")

	runID, ok := c.Active("session-a")
	require.True(t, ok, "run must stay registered after a rejected cancel")
	assert.Equal(t, "r1", runID)
}

func TestCoordinator_UnknownCancelIsNoOp(t *testing.T) {
	c := NewCoordinator(nil)

	aborted, err := c.Cancel("nonexistent", "any-session")
	assert.NoError(t, err)
	assert.False(t, aborted)
}

func TestCoordinator_LastWriterWins(t *testing.T) {
	c := NewCoordinator(nil)

	ctx1, cancel1 := context.WithCancel(context.Background())
	c.Register("session-a", "r1", cancel1)

	ctx2, cancel2 := context.WithCancel(context.Background())
	orphaned := c.Register("session-a", "r2", cancel2)

	assert.Equal(t, "r1", orphaned)
	assert.ErrorIs(t, ctx1.Err(), context.Canceled, "replaced run must be orphan-cancelled")
	assert.NoError(t, ctx2.Err())

	runID, ok := c.Active("session-a")
	require.True(t, ok)
	assert.Equal(t, "r2", runID)

	// The orphaned run is gone from bookkeeping: cancelling it is a no-op.
	aborted, err := c.Cancel("r1", "session-a")
	require.NoError(t, err)
	assert.False(t, aborted)
}

func TestCoordinator_Release(t *testing.T) {
	c := NewCoordinator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.Register("session-a", "r1", cancel)

	c.Release("r1")
	assert.NoError(t, ctx.Err(), "release must not trigger cancellation")

	aborted, err := c.Cancel("r1", "session-a")
	require.NoError(t, err)
	assert.False(t, aborted, "released run behaves like an unknown run")

	c.Release("r1") // double release is a no-op
}

func TestCoordinator_ReleaseDoesNotDropSuccessor(t *testing.T) {
	c := NewCoordinator(nil)

	_, cancel1 := context.WithCancel(context.Background())
	c.Register("session-a", "r1", cancel1)
	_, cancel2 := context.WithCancel(context.Background())
	c.Register("session-a", "r2", cancel2)

	// The orphaned run settles later and releases itself; that must not
	// remove the successor's registration.
	c.Release("r1")

	runID, ok := c.Active("session-a")
	require.True(t, ok)
	assert.Equal(t, "r2", runID)
}

func TestCoordinator_CancelAll(t *testing.T) {
	c := NewCoordinator(nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	c.Register("session-a", "r1", cancelA)
	ctxB, cancelB := context.WithCancel(context.Background())
	c.Register("session-b", "r2", cancelB)

	aborted := c.CancelAll("session-a")
	assert.Equal(t, []string{"r1"}, aborted)
	assert.ErrorIs(t, ctxA.Err(), context.Canceled)
	assert.NoError(t, ctxB.Err(), "other sessions are untouched")

	assert.Empty(t, c.CancelAll("session-a"), "second stop has nothing to abort")
}
