// Package pairing manages the trust handshake between the gateway and
// remote devices. A device announces itself, an operator approves or
// rejects the pending request, and approval mints a device token and
// persists the node. Pairing establishes trust only; whether the node is
// currently reachable is the bridge package's concern.
package pairing
