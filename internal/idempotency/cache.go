// ABOUTME: Thread-safe TTL cache replaying outcomes of retried mutating requests.
// ABOUTME: A placeholder is claimed before side effects run so in-flight retries dedupe too.

package idempotency

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/2389/hearth-gateway/internal/protocol"
)

// entry states. A key moves pending -> acked -> final; retries replay
// whatever outcome is recorded, and StoreAck never clobbers a final outcome.
const (
	statePending = iota
	stateAcked
	stateFinal
)

// Outcome is the recorded result of a mutating request, replayed verbatim
// to any retry carrying the same method and idempotency key.
type Outcome struct {
	OK      bool
	Payload json.RawMessage
	Err     *protocol.Error
}

// cacheEntry stores one key's outcome, its LRU position, and a ready channel
// closed once the first caller records an outcome.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	state     int
	outcome   Outcome
	ready     chan struct{}
}

// Cache provides a thread-safe, TTL-based, size-limited cache mapping
// idempotency keys to request outcomes. Entries are claimed synchronously
// before any side effect begins, so a retry that races the original call
// still resolves to the single recorded outcome.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// Key builds the cache key for a method and client-supplied idempotency key.
func Key(method, idempotencyKey string) string {
	return method + ":" + idempotencyKey
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Begin atomically claims a key. The first caller for a fresh key gets
// duplicate=false and owns the side effect; it must later call StoreAck
// and/or StoreFinal. Every other caller gets duplicate=true and should
// replay the recorded outcome (via Await if the owner has not recorded
// one yet).
func (c *Cache) Begin(key string) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.insertLocked(key)
	return false
}

// StoreAck records the initial acknowledgement for a key. It is a no-op if
// a final outcome is already recorded (the async work settled before the
// accept frame was stored).
func (c *Cache) StoreAck(key string, out Outcome) {
	c.store(key, out, stateAcked)
}

// StoreFinal records the terminal outcome for a key, overwriting any
// earlier acknowledgement.
func (c *Cache) StoreFinal(key string, out Outcome) {
	c.store(key, out, stateFinal)
}

func (c *Cache) store(key string, out Outcome, state int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}
	if state == stateAcked && entry.state == stateFinal {
		return
	}
	wasPending := entry.state == statePending
	entry.outcome = out
	entry.state = state
	entry.timestamp = time.Now()
	c.order.MoveToBack(entry.element)
	if wasPending {
		close(entry.ready)
	}
}

// Await returns the recorded outcome for a key, blocking until the owning
// call records one or ctx is done. The wait is bounded in practice: the
// owner stores its acknowledgement synchronously within its own dispatch.
func (c *Cache) Await(ctx context.Context, key string) (Outcome, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return Outcome{}, false
	}
	if entry.state != statePending {
		out := entry.outcome
		c.mu.Unlock()
		return out, true
	}
	ready := entry.ready
	c.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return Outcome{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok = c.entries[key]
	if !ok || entry.state == statePending {
		return Outcome{}, false
	}
	return entry.outcome, true
}

// Lookup returns the recorded outcome without claiming or blocking.
func (c *Cache) Lookup(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.state == statePending || time.Since(entry.timestamp) >= c.ttl {
		return Outcome{}, false
	}
	return entry.outcome, true
}

// insertLocked claims a fresh entry for key. Must be called with mu held.
func (c *Cache) insertLocked(key string) {
	if old, exists := c.entries[key]; exists {
		// Expired entry being reclaimed: drop its LRU node first.
		c.order.Remove(old.element)
		delete(c.entries, key)
		if old.state == statePending {
			close(old.ready)
		}
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		timestamp: time.Now(),
		element:   elem,
		state:     statePending,
		ready:     make(chan struct{}),
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	if entry, ok := c.entries[key]; ok {
		if entry.state == statePending {
			close(entry.ready)
		}
		delete(c.entries, key)
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired non-pending entries from the cache.
// Pending entries are left alone: their owner is still dispatching.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if entry.state != statePending && now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
