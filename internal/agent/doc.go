// Package agent defines the seam to the agent runtime. The gateway owns
// scheduling, cancellation, and outcome tracking; the Runner executes the
// actual turn. NoopRunner stands in for the runtime during development.
package agent
