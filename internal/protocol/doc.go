// Package protocol defines the JSON wire contract of the gateway RPC
// channel: request, response and push frames, method names, per-method
// parameter types, and the INVALID_REQUEST / UNAVAILABLE error taxonomy.
//
// The package is intentionally transport-agnostic. Frames are carried over
// any reliable, ordered, bidirectional channel (the gateway serves them
// over WebSocket); nothing here knows about framing or handshakes.
package protocol
