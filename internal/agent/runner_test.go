// ABOUTME: Tests for the development runner.
// ABOUTME: Verifies delay completion and context cancellation.

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRunner_CompletesAfterDelay(t *testing.T) {
	r := &NoopRunner{Delay: 10 * time.Millisecond}

	err := r.Run(context.Background(), "alice", "hello")
	require.NoError(t, err)
}

func TestNoopRunner_HonorsCancellation(t *testing.T) {
	r := &NoopRunner{Delay: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, "alice", "hello") }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner ignored cancellation")
	}
}

func TestRunnerFunc(t *testing.T) {
	called := false
	r := RunnerFunc(func(ctx context.Context, sessionKey, message string) error {
		called = true
		assert.Equal(t, "alice", sessionKey)
		return nil
	})

	require.NoError(t, r.Run(context.Background(), "alice", "hi"))
	assert.True(t, called)
}
