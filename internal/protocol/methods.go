// ABOUTME: Typed parameter and payload structs for each RPC method.
// ABOUTME: Keeps the wire contract in one place so handlers stay thin.

package protocol

import "encoding/json"

// RPC method names handled by the gateway dispatcher.
const (
	MethodAgentRun       = "agent.run"
	MethodAgentWait      = "agent.wait"
	MethodAgentCancel    = "agent.cancel"
	MethodSessionStop    = "session.stop"
	MethodLaneConfigure  = "lane.configure"
	MethodLaneStats      = "lane.stats"
	MethodPairingRequest = "pairing.request"
	MethodPairingApprove = "pairing.approve"
	MethodPairingReject  = "pairing.reject"
	MethodPairingPending = "pairing.pending"
	MethodPairingList    = "pairing.list"
	MethodPairingRevoke  = "pairing.revoke"
	MethodNodeConnect    = "node.connect"
	MethodNodeResult     = "node.result"
	MethodNodeInvoke     = "node.invoke"
	MethodNodeList       = "node.list"
)

// IdempotentParams is embedded by every mutating method's params.
type IdempotentParams struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RunParams starts an agent job on a session.
type RunParams struct {
	IdempotentParams
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
	RunID      string `json:"runId,omitempty"`
	Lane       string `json:"lane,omitempty"`
}

// RunAccepted is the immediate acknowledgement for agent.run.
type RunAccepted struct {
	Status     string `json:"status"` // always "accepted"
	RunID      string `json:"runId"`
	AcceptedAt int64  `json:"acceptedAt"`
}

// RunOutcome is the finalize payload for agent.run and the payload of
// agent.wait. Status is "ok", "error" or (wait only) "timeout".
type RunOutcome struct {
	Status    string `json:"status"`
	RunID     string `json:"runId"`
	StartedAt int64  `json:"startedAt,omitempty"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WaitParams blocks until a job settles or the timeout elapses. A nil
// TimeoutMs takes the server default; an explicit 0 checks the cached
// outcome without blocking.
type WaitParams struct {
	RunID     string `json:"runId"`
	AfterMs   int64  `json:"afterMs,omitempty"`
	TimeoutMs *int64 `json:"timeoutMs,omitempty"`
}

// CancelParams cancels one run. SessionKey must match the run's owner.
type CancelParams struct {
	IdempotentParams
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
}

// CancelResult reports whether a run was actually aborted.
type CancelResult struct {
	Aborted bool `json:"aborted"`
}

// StopParams cancels every run registered to a session.
type StopParams struct {
	IdempotentParams
	SessionKey string `json:"sessionKey"`
}

// StopResult lists the runs that were aborted.
type StopResult struct {
	Aborted []string `json:"aborted"`
}

// LaneConfigureParams changes a lane's concurrency limit at runtime.
// MaxConcurrency 0 means unbounded.
type LaneConfigureParams struct {
	IdempotentParams
	Lane           string `json:"lane"`
	MaxConcurrency int    `json:"maxConcurrency"`
}

// PairingRequestParams announces an unpaired device to the gateway.
type PairingRequestParams struct {
	NodeID      string `json:"nodeId"`
	DisplayName string `json:"displayName,omitempty"`
	Platform    string `json:"platform,omitempty"`
	RemoteIP    string `json:"remoteIp,omitempty"`
}

// PairingResolveParams approves or rejects a pending pairing request.
type PairingResolveParams struct {
	IdempotentParams
	RequestID string `json:"requestId"`
}

// PairingRevokeParams removes an existing paired node.
type PairingRevokeParams struct {
	IdempotentParams
	NodeID string `json:"nodeId"`
}

// NodeConnectParams authenticates a paired device's live connection.
type NodeConnectParams struct {
	NodeID string `json:"nodeId"`
	Token  string `json:"token"`
}

// InvokeParams calls a capability on a connected paired node.
type InvokeParams struct {
	IdempotentParams
	NodeID     string          `json:"nodeId"`
	Command    string          `json:"command"`
	ParamsJSON json.RawMessage `json:"paramsJSON,omitempty"`
	TimeoutMs  int64           `json:"timeoutMs,omitempty"`
}

// InvokeResult is the reply of a bridge invocation. PayloadJSON is opaque
// to this layer.
type InvokeResult struct {
	OK          bool            `json:"ok"`
	PayloadJSON json.RawMessage `json:"payloadJSON,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NodeResultParams carries a device's reply to an earlier invocation push.
type NodeResultParams struct {
	ID          string          `json:"id"`
	OK          bool            `json:"ok"`
	PayloadJSON json.RawMessage `json:"payloadJSON,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// InvokePush is the push payload delivered to a connected node when the
// gateway invokes one of its capabilities.
type InvokePush struct {
	ID         string          `json:"id"`
	Command    string          `json:"command"`
	ParamsJSON json.RawMessage `json:"paramsJSON,omitempty"`
}
