// ABOUTME: Tests for the idempotency cache that replays outcomes of retried requests.
// ABOUTME: Validates claiming, outcome replay, TTL expiration, eviction, and concurrency safety.

package idempotency

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

func TestKey(t *testing.T) {
	assert.Equal(t, "agent.run:abc", Key("agent.run", "abc"))
}

func TestCache_Begin_FirstClaimWins(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Begin("agent.run:k1"), "first Begin should claim the key")
	assert.True(t, cache.Begin("agent.run:k1"), "second Begin should report a duplicate")
}

func TestCache_StoreAckAndLookup(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("agent.run", "k1")
	require.False(t, cache.Begin(key))

	cache.StoreAck(key, Outcome{OK: true, Payload: json.RawMessage(`{"status":"accepted"}`)})

	out, ok := cache.Lookup(key)
	require.True(t, ok)
	assert.True(t, out.OK)
	assert.JSONEq(t, `{"status":"accepted"}`, string(out.Payload))
}

func TestCache_StoreFinal_OverwritesAck(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("agent.run", "k1")
	require.False(t, cache.Begin(key))

	cache.StoreAck(key, Outcome{OK: true, Payload: json.RawMessage(`{"status":"accepted"}`)})
	cache.StoreFinal(key, Outcome{OK: true, Payload: json.RawMessage(`{"status":"ok"}`)})

	out, ok := cache.Lookup(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"ok"}`, string(out.Payload))
}

func TestCache_StoreAck_DoesNotClobberFinal(t *testing.T) {
	// The async body can settle before the dispatcher records the accept
	// frame; the final outcome must survive.
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("agent.run", "k1")
	require.False(t, cache.Begin(key))

	cache.StoreFinal(key, Outcome{OK: true, Payload: json.RawMessage(`{"status":"ok"}`)})
	cache.StoreAck(key, Outcome{OK: true, Payload: json.RawMessage(`{"status":"accepted"}`)})

	out, ok := cache.Lookup(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"ok"}`, string(out.Payload))
}

func TestCache_StoresErrors(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("pairing.approve", "k1")
	require.False(t, cache.Begin(key))

	cache.StoreAck(key, Outcome{OK: false, Err: protocol.InvalidRequest("unknown request id")})

	out, ok := cache.Lookup(key)
	require.True(t, ok)
	assert.False(t, out.OK)
	require.NotNil(t, out.Err)
	assert.Equal(t, protocol.CodeInvalidRequest, out.Err.Code)
}

func TestCache_Await_BlocksUntilOutcome(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("agent.run", "k1")
	require.False(t, cache.Begin(key))

	done := make(chan Outcome, 1)
	go func() {
		out, ok := cache.Await(context.Background(), key)
		if ok {
			done <- out
		}
	}()

	time.Sleep(10 * time.Millisecond)
	cache.StoreAck(key, Outcome{OK: true, Payload: json.RawMessage(`{"status":"accepted"}`)})

	select {
	case out := <-done:
		assert.True(t, out.OK)
	case <-time.After(time.Second):
		t.Fatal("Await did not resolve after StoreAck")
	}
}

func TestCache_Await_ContextCancel(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("agent.run", "k1")
	require.False(t, cache.Begin(key))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := cache.Await(ctx, key)
	assert.False(t, ok, "Await should give up when ctx is done")
}

func TestCache_Expired_KeyReclaimable(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	key := Key("agent.run", "k1")
	require.False(t, cache.Begin(key))
	cache.StoreAck(key, Outcome{OK: true})

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Begin(key), "expired key should be claimable again")
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for _, k := range []string{"m:1", "m:2", "m:3"} {
		require.False(t, cache.Begin(k))
		cache.StoreAck(k, Outcome{OK: true})
	}

	// Fourth key evicts the oldest.
	require.False(t, cache.Begin("m:4"))

	_, ok := cache.Lookup("m:1")
	assert.False(t, ok, "oldest key should be evicted")
	_, ok = cache.Lookup("m:2")
	assert.True(t, ok)
}

func TestCache_Concurrent_SingleWinner(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 100

	var winners int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.Begin("agent.run:contested") {
				mu.Lock()
				winners++
				mu.Unlock()
				cache.StoreAck("agent.run:contested", Outcome{OK: true, Payload: json.RawMessage(`{"n":1}`)})
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), winners, "exactly one caller should claim the key")
}

func TestCache_Concurrent_RetriesSeeSameOutcome(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	key := Key("agent.run", "shared")
	payload := json.RawMessage(`{"runId":"r1","status":"accepted"}`)

	const numGoroutines = 50
	results := make(chan Outcome, numGoroutines)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.Begin(key) {
				// Winner: record the outcome after a small delay to force
				// retries through Await.
				time.Sleep(5 * time.Millisecond)
				cache.StoreAck(key, Outcome{OK: true, Payload: payload})
				results <- Outcome{OK: true, Payload: payload}
				return
			}
			out, ok := cache.Await(context.Background(), key)
			if ok {
				results <- out
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for out := range results {
		count++
		assert.True(t, out.OK)
		assert.JSONEq(t, string(payload), string(out.Payload))
	}
	assert.Equal(t, numGoroutines, count, "every concurrent caller should observe the single outcome")
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	require.False(t, cache.Begin("m:k"))
	cache.StoreAck("m:k", Outcome{OK: true})

	cache.Close()
	cache.Close() // multiple closes should not panic
}
