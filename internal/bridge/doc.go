// Package bridge performs timed, correlated request/response calls
// against connected paired devices. The Manager tracks live connections
// (reachability, as opposed to the pairing package's trust), generates an
// invocation ID per call, and resolves the caller when the matching reply
// arrives or fails fast when the connection is gone.
package bridge
