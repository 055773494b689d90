// Package jobs tracks the lifecycle of asynchronous agent jobs.
//
// A job is identified by its run ID. The Registry records an optional
// start event and exactly one terminal event (done or error), keeps the
// terminal snapshot for a TTL window, and publishes it on the Bus so
// concurrent waiters resolve. Wait implements the reconnect-safe wait
// protocol: cached snapshots are accepted only when they satisfy the
// caller's afterMs filter, and a timeout is a distinguished nil result,
// not an error.
package jobs
