// ABOUTME: Tests for the job settle event bus.
// ABOUTME: Validates fan-out, at-most-once delivery per publish, and unsubscribe cleanup.

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishToSubscriber(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch, subID := bus.Subscribe(context.Background(), "r1")
	defer bus.Unsubscribe("r1", subID)

	bus.Publish("r1", &Snapshot{RunID: "r1", State: StateDone})

	select {
	case snap := <-ch:
		assert.Equal(t, StateDone, snap.State)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch1, _ := bus.Subscribe(context.Background(), "r1")
	ch2, _ := bus.Subscribe(context.Background(), "r1")
	other, _ := bus.Subscribe(context.Background(), "r2")

	bus.Publish("r1", &Snapshot{RunID: "r1", State: StateDone})

	for _, ch := range []<-chan *Snapshot{ch1, ch2} {
		select {
		case snap := <-ch:
			assert.Equal(t, "r1", snap.RunID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("subscriber for a different run received the event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_Unsubscribe_Idempotent(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch, subID := bus.Subscribe(context.Background(), "r1")

	bus.Unsubscribe("r1", subID)
	bus.Unsubscribe("r1", subID) // second release must be a no-op

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	bus.Publish("r1", &Snapshot{RunID: "r1", State: StateDone})
}

func TestBus_PublishRacingUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	// A waiter timing out unsubscribes while a settle is being published.
	// The publish must never hit a channel the unsubscribe just closed.
	for i := 0; i < 2000; i++ {
		_, subID := bus.Subscribe(context.Background(), "r1")

		done := make(chan struct{})
		go func() {
			bus.Publish("r1", &Snapshot{RunID: "r1", State: StateDone})
			close(done)
		}()
		bus.Unsubscribe("r1", subID)
		<-done
	}
}

func TestBus_ContextCancelCleansUp(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx, "r1")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "channel should close after context cancellation")
}
