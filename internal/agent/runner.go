// ABOUTME: Runner is the seam between the gateway and the agent runtime.
// ABOUTME: The gateway schedules and cancels runs; the runtime does the actual work.

package agent

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes one agent turn for a session. Implementations must honor
// ctx cancellation: the gateway's cancellation is cooperative and a run
// that ignores its context can only be orphaned, not killed.
//
// The real runtime (prompt construction, model calls, tool execution)
// lives outside this repository; the gateway only cares that a run
// eventually returns.
type Runner interface {
	Run(ctx context.Context, sessionKey, message string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sessionKey, message string) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, sessionKey, message string) error {
	return f(ctx, sessionKey, message)
}

// NoopRunner is a development stand-in that logs the message and returns
// after a short, cancellable delay. Useful for exercising the gateway
// without an agent runtime attached.
type NoopRunner struct {
	Delay  time.Duration
	Logger *slog.Logger
}

// Run implements Runner.
func (r *NoopRunner) Run(ctx context.Context, sessionKey, message string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("noop agent run", "session_key", sessionKey, "message_len", len(message))

	if r.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
