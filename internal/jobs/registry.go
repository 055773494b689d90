// ABOUTME: Registry of job lifecycle snapshots with TTL retention and a wait protocol.
// ABOUTME: Terminal snapshots are cached, published on the bus, and pruned lazily.

package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SnapshotTTL is how long a terminal snapshot stays retrievable after it
// was observed.
const SnapshotTTL = 10 * time.Minute

// Job states. A run moves (no entry) -> StateStarted -> {StateDone, StateError};
// the started event is optional.
const (
	StateStarted = "started"
	StateDone    = "done"
	StateError   = "error"
)

// Snapshot is the last known state of one job execution. StartedAt and
// EndedAt are epoch milliseconds; zero means unknown.
type Snapshot struct {
	RunID      string `json:"runId"`
	State      string `json:"state"`
	StartedAt  int64  `json:"startedAt,omitempty"`
	EndedAt    int64  `json:"endedAt,omitempty"`
	Error      string `json:"error,omitempty"`
	ObservedAt time.Time `json:"-"`
}

// matchesAfter reports whether the snapshot satisfies an afterMs filter:
// startedAt >= afterMs if known, else endedAt >= afterMs if known, else no
// match. This keeps wait calls from accepting a stale snapshot belonging to
// an earlier run.
func (s *Snapshot) matchesAfter(afterMs int64) bool {
	if afterMs <= 0 {
		return true
	}
	if s.StartedAt != 0 {
		return s.StartedAt >= afterMs
	}
	if s.EndedAt != 0 {
		return s.EndedAt >= afterMs
	}
	return false
}

// startEntry remembers a recorded start for later snapshot enrichment.
type startEntry struct {
	startedAt  int64
	observedAt time.Time
}

// Registry tracks job snapshots for the gateway process. Terminal
// recordings publish on the bus so concurrent waiters resolve; entries
// older than the TTL are pruned lazily on every read and write.
type Registry struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	starts    map[string]startEntry
	bus       *Bus
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry publishing settle events on bus.
func NewRegistry(bus *Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		snapshots: make(map[string]*Snapshot),
		starts:    make(map[string]startEntry),
		bus:       bus,
		ttl:       SnapshotTTL,
		logger:    logger.With("component", "job-registry"),
		now:       time.Now,
	}
}

// RecordStart stores the start time of a run for later snapshot
// enrichment. Idempotent: re-recording a start keeps the first timestamp.
func (r *Registry) RecordStart(runID string, startedAt int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	if _, ok := r.starts[runID]; ok {
		return
	}
	r.starts[runID] = startEntry{startedAt: startedAt, observedAt: r.now()}
}

// RecordTerminal stores the terminal snapshot for a run, prunes stale
// entries, and publishes the event on the bus. If the snapshot has no
// start time, a previously recorded start fills it in.
func (r *Registry) RecordTerminal(snap Snapshot) {
	r.mu.Lock()
	r.pruneLocked()

	if snap.StartedAt == 0 {
		if start, ok := r.starts[snap.RunID]; ok {
			snap.StartedAt = start.startedAt
		}
	}
	delete(r.starts, snap.RunID)
	snap.ObservedAt = r.now()

	stored := snap
	r.snapshots[snap.RunID] = &stored
	r.mu.Unlock()

	r.logger.Debug("job settled",
		"run_id", snap.RunID,
		"state", snap.State,
		"error", snap.Error,
	)
	r.bus.Publish(snap.RunID, &stored)
}

// Lookup returns the cached terminal snapshot for a run if it is still
// within the TTL and satisfies the afterMs filter.
func (r *Registry) Lookup(runID string, afterMs int64) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	snap, ok := r.snapshots[runID]
	if !ok || !snap.matchesAfter(afterMs) {
		return nil
	}
	copied := *snap
	return &copied
}

// Wait blocks until a terminal snapshot matching afterMs is available for
// runID or the timeout elapses, whichever comes first. Returns nil on
// timeout; an unknown runID is indistinguishable from "not yet finished".
// With timeout <= 0 only the cache is consulted.
func (r *Registry) Wait(ctx context.Context, runID string, afterMs int64, timeout time.Duration) *Snapshot {
	if snap := r.Lookup(runID, afterMs); snap != nil {
		return snap
	}
	if timeout <= 0 {
		return nil
	}

	// Subscribe before re-checking the cache so a settle landing between
	// the two reads is not missed.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, subID := r.bus.Subscribe(ctx, runID)
	defer r.bus.Unsubscribe(runID, subID)

	if snap := r.Lookup(runID, afterMs); snap != nil {
		return snap
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if snap.matchesAfter(afterMs) {
				copied := *snap
				return &copied
			}
			// Stale settle for an earlier incarnation of this run ID;
			// keep waiting for one that satisfies the filter.
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// pruneLocked removes snapshots and start records older than the TTL.
// Must be called with mu held.
func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-r.ttl)
	for runID, snap := range r.snapshots {
		if snap.ObservedAt.Before(cutoff) {
			delete(r.snapshots, runID)
		}
	}
	for runID, start := range r.starts {
		if start.observedAt.Before(cutoff) {
			delete(r.starts, runID)
		}
	}
}
