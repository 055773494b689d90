// Package gateway is the hearth-gateway server: it dispatches RPC frames
// arriving over the /rpc websocket to the domain packages, applies
// idempotent replay for retried mutating requests, broadcasts push events
// to connected listeners, and serves the admin API, health, and metrics
// over the same HTTP listener.
//
// The request flow for a mutating method is claim-then-execute: the
// dispatcher claims the request's idempotency key before any side effect
// runs, so a retry racing the original call resolves to the single
// recorded outcome instead of executing twice. Replayed responses carry
// meta.cached so callers can tell a replay from a fresh execution.
//
// agent.run is accept-then-finalize: the caller gets an immediate
// acceptance frame, and a second frame with the same request ID once the
// job settles. Callers that lose their connection in between recover the
// outcome through agent.wait.
package gateway
