// ABOUTME: Coordinates at-most-one registered run per session and cooperative cancellation.
// ABOUTME: Cancels verify session ownership so one session cannot abort another's run.

package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSessionMismatch indicates a cancel named a run that belongs to a
// different session. This is a protocol violation, not a transient failure.
var ErrSessionMismatch = errors.New("run is registered to a different session")

// registration associates one run with its owning session and its
// cancellation token.
type registration struct {
	sessionKey string
	runID      string
	cancel     context.CancelFunc
}

// Coordinator enforces at-most-one registered run per session key.
//
// Policy for a session that already has an active run: last writer wins.
// Registering a new run cancels the previous run's token and replaces the
// bookkeeping (the orphaned run still settles through the job registry on
// its own). Actual execution concurrency is bounded by the lane scheduler,
// not by this coordinator.
//
// Cancellation is cooperative: triggering a token does not terminate the
// job; the job body observes its context and settles on its own.
type Coordinator struct {
	mu        sync.Mutex
	byRun     map[string]*registration
	bySession map[string]*registration
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator. Pass nil logger for default.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		byRun:     make(map[string]*registration),
		bySession: make(map[string]*registration),
		logger:    logger.With("component", "run-coordinator"),
	}
}

// Register associates a run with a session. If the session already has a
// registered run, that run's token is triggered and its registration
// replaced; the orphaned run ID is returned so the caller can log or
// broadcast it.
func (c *Coordinator) Register(sessionKey, runID string, cancel context.CancelFunc) (orphaned string) {
	c.mu.Lock()
	prev, hadPrev := c.bySession[sessionKey]
	if hadPrev {
		delete(c.byRun, prev.runID)
		orphaned = prev.runID
	}
	reg := &registration{sessionKey: sessionKey, runID: runID, cancel: cancel}
	c.byRun[runID] = reg
	c.bySession[sessionKey] = reg
	c.mu.Unlock()

	if hadPrev {
		c.logger.Info("run replaced on session",
			"session_key", sessionKey,
			"orphaned_run_id", prev.runID,
			"run_id", runID,
		)
		prev.cancel()
	}
	return orphaned
}

// Release removes a run's registration when it ends for any reason.
// Releasing an unknown or already-replaced run is a no-op.
func (c *Coordinator) Release(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, ok := c.byRun[runID]
	if !ok {
		return
	}
	delete(c.byRun, runID)
	if cur, ok := c.bySession[reg.sessionKey]; ok && cur.runID == runID {
		delete(c.bySession, reg.sessionKey)
	}
}

// Cancel triggers the cancellation token of the named run.
//
// An unknown run ID returns (false, nil): cancelling a finished or
// never-registered run is a no-op, not an error. A session key that does
// not match the run's owner returns ErrSessionMismatch and leaves the run
// registered.
func (c *Coordinator) Cancel(runID, sessionKey string) (aborted bool, err error) {
	c.mu.Lock()
	reg, ok := c.byRun[runID]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	if reg.sessionKey != sessionKey {
		c.mu.Unlock()
		c.logger.Warn("cross-session cancel rejected",
			"run_id", runID,
			"owner_session", reg.sessionKey,
			"caller_session", sessionKey,
		)
		return false, ErrSessionMismatch
	}
	delete(c.byRun, runID)
	if cur, ok := c.bySession[reg.sessionKey]; ok && cur.runID == runID {
		delete(c.bySession, reg.sessionKey)
	}
	c.mu.Unlock()

	reg.cancel()
	c.logger.Info("run cancelled", "run_id", runID, "session_key", sessionKey)
	return true, nil
}

// CancelAll triggers every run currently registered to the session and
// returns their run IDs. Used for "stop" commands.
func (c *Coordinator) CancelAll(sessionKey string) []string {
	c.mu.Lock()
	var cancelled []*registration
	if reg, ok := c.bySession[sessionKey]; ok {
		delete(c.bySession, sessionKey)
		delete(c.byRun, reg.runID)
		cancelled = append(cancelled, reg)
	}
	c.mu.Unlock()

	aborted := make([]string, 0, len(cancelled))
	for _, reg := range cancelled {
		reg.cancel()
		aborted = append(aborted, reg.runID)
	}
	if len(aborted) > 0 {
		c.logger.Info("session stopped", "session_key", sessionKey, "aborted", aborted)
	}
	return aborted
}

// Active returns the run currently registered to a session, if any.
func (c *Coordinator) Active(sessionKey string) (runID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, ok := c.bySession[sessionKey]
	if !ok {
		return "", false
	}
	return reg.runID, true
}
