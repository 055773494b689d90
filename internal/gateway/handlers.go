// ABOUTME: RPC method handlers bridging the wire contract to the domain packages.
// ABOUTME: agent.run follows accept-then-finalize; errors map onto the protocol taxonomy.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hearth-gateway/internal/bridge"
	"github.com/2389/hearth-gateway/internal/idempotency"
	"github.com/2389/hearth-gateway/internal/jobs"
	"github.com/2389/hearth-gateway/internal/lanes"
	"github.com/2389/hearth-gateway/internal/pairing"
	"github.com/2389/hearth-gateway/internal/protocol"
	"github.com/2389/hearth-gateway/internal/runs"
)

// Wait timeout bounds for agent.wait. A zero timeoutMs takes the default;
// explicit values are clamped to the cap.
const (
	DefaultWaitTimeout = 30 * time.Second
	MaxWaitTimeout     = 120 * time.Second
)

// Outcome statuses carried in RunOutcome payloads.
const (
	StatusAccepted = "accepted"
	StatusOK       = "ok"
	StatusError    = "error"
	StatusTimeout  = "timeout"
)

// errAborted is the terminal error string for a cancelled run.
const errAborted = "aborted"

func decodeParams(raw json.RawMessage, dst any) *protocol.Error {
	if len(raw) == 0 {
		return protocol.InvalidRequest("params required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return protocol.InvalidRequest("decoding params: %v", err)
	}
	return nil
}

// handleAgentRun accepts an agent job, schedules it through its lane, and
// finalizes the same request ID with a second frame once the job settles.
func (g *Gateway) handleAgentRun(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.RunParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.SessionKey == "" {
		return nil, protocol.InvalidRequest("sessionKey required")
	}
	if p.Message == "" {
		return nil, protocol.InvalidRequest("message required")
	}

	runID := p.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	lane := p.Lane
	if lane == "" {
		lane = lanes.LaneMain
	}

	// The run outlives the request frame, so its context derives from the
	// gateway lifetime, not the connection.
	runCtx, cancel := context.WithCancel(g.baseCtx)
	if orphaned := g.runs.Register(p.SessionKey, runID, cancel); orphaned != "" {
		g.broadcaster.Broadcast("run.replaced", map[string]string{
			"sessionKey":    p.SessionKey,
			"orphanedRunId": orphaned,
			"runId":         runID,
		})
	}

	resultCh := g.sched.Submit(runCtx, lane, func(taskCtx context.Context) error {
		g.metrics.JobStart()
		g.jobs.RecordStart(runID, time.Now().UnixMilli())
		return g.runner.Run(taskCtx, p.SessionKey, p.Message)
	})
	go g.finalizeRun(c, req.ID, idemKey, runID, resultCh)

	return protocol.RunAccepted{
		Status:     StatusAccepted,
		RunID:      runID,
		AcceptedAt: time.Now().UnixMilli(),
	}, nil
}

// finalizeRun waits for a submitted job to settle, records the terminal
// snapshot, and sends the finalize frame for the originating request.
func (g *Gateway) finalizeRun(c session, reqID, idemKey, runID string, resultCh <-chan error) {
	err := <-resultCh
	g.runs.Release(runID)
	g.metrics.JobEnd(err == nil)

	snap := jobs.Snapshot{RunID: runID, EndedAt: time.Now().UnixMilli()}
	outcome := protocol.RunOutcome{RunID: runID, EndedAt: snap.EndedAt, Status: StatusOK}
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = errAborted
		}
		snap.State = jobs.StateError
		snap.Error = msg
		outcome.Status = StatusError
		outcome.Error = msg
	} else {
		snap.State = jobs.StateDone
	}

	g.jobs.RecordTerminal(snap)
	if enriched := g.jobs.Lookup(runID, 0); enriched != nil {
		outcome.StartedAt = enriched.StartedAt
	}

	resp := protocol.OKResponse(reqID, outcome)
	if idemKey != "" {
		g.cache.StoreFinal(idemKey, idempotency.Outcome{OK: true, Payload: resp.Payload})
	}
	c.send(resp)
}

// handleAgentWait blocks until the named run settles or the timeout
// elapses. Timing out is a status, not an error.
func (g *Gateway) handleAgentWait(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.WaitParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.RunID == "" {
		return nil, protocol.InvalidRequest("runId required")
	}

	// Absent timeout takes the default; an explicit 0 (or negative) means a
	// non-blocking cache check.
	timeout := DefaultWaitTimeout
	if p.TimeoutMs != nil {
		timeout = time.Duration(*p.TimeoutMs) * time.Millisecond
	}
	if timeout > MaxWaitTimeout {
		timeout = MaxWaitTimeout
	}

	snap := g.jobs.Wait(ctx, p.RunID, p.AfterMs, timeout)
	if snap == nil {
		return protocol.RunOutcome{Status: StatusTimeout, RunID: p.RunID}, nil
	}

	status := StatusOK
	if snap.State == jobs.StateError {
		status = StatusError
	}
	return protocol.RunOutcome{
		Status:    status,
		RunID:     snap.RunID,
		StartedAt: snap.StartedAt,
		EndedAt:   snap.EndedAt,
		Error:     snap.Error,
	}, nil
}

// handleAgentCancel triggers cooperative cancellation of one run. The
// session key must match the run's owner; unknown runs are a no-op.
func (g *Gateway) handleAgentCancel(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.CancelParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.RunID == "" {
		return nil, protocol.InvalidRequest("runId required")
	}
	if p.SessionKey == "" {
		return nil, protocol.InvalidRequest("sessionKey required")
	}

	aborted, err := g.runs.Cancel(p.RunID, p.SessionKey)
	if errors.Is(err, runs.ErrSessionMismatch) {
		return nil, protocol.InvalidRequest("run %s belongs to a different session", p.RunID)
	}
	return protocol.CancelResult{Aborted: aborted}, nil
}

// handleSessionStop cancels every run registered to a session.
func (g *Gateway) handleSessionStop(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.StopParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.SessionKey == "" {
		return nil, protocol.InvalidRequest("sessionKey required")
	}

	aborted := g.runs.CancelAll(p.SessionKey)
	if aborted == nil {
		aborted = []string{}
	}
	return protocol.StopResult{Aborted: aborted}, nil
}

// handleLaneConfigure changes a lane's concurrency limit at runtime.
func (g *Gateway) handleLaneConfigure(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.LaneConfigureParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.Lane == "" {
		return nil, protocol.InvalidRequest("lane required")
	}
	if p.MaxConcurrency < 0 {
		return nil, protocol.InvalidRequest("maxConcurrency must be >= 0")
	}

	g.sched.Configure(p.Lane, p.MaxConcurrency)
	for _, stat := range g.sched.Stats() {
		if stat.Name == p.Lane {
			return stat, nil
		}
	}
	return lanes.LaneStats{Name: p.Lane, MaxConcurrency: p.MaxConcurrency}, nil
}

// handleLaneStats reports every known lane, sorted by name.
func (g *Gateway) handleLaneStats(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	stats := g.sched.Stats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return map[string]any{"lanes": stats}, nil
}

// handlePairingRequest records a device announcement. Re-announcement
// before resolution refreshes the pending request rather than erroring.
func (g *Gateway) handlePairingRequest(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.PairingRequestParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.NodeID == "" {
		return nil, protocol.InvalidRequest("nodeId required")
	}

	remoteIP := p.RemoteIP
	if remoteIP == "" && c != nil {
		remoteIP = c.remoteIP()
	}
	pending, err := g.pairing.Request(ctx, pairing.Announcement{
		NodeID:      p.NodeID,
		DisplayName: p.DisplayName,
		Platform:    p.Platform,
		RemoteIP:    remoteIP,
	})
	if err != nil {
		return nil, protocol.Unavailable("recording pairing request: %v", err)
	}
	return pending, nil
}

// handlePairingApprove pairs a pending node and returns its device token.
// The token appears only in this response; it is never listed afterwards.
func (g *Gateway) handlePairingApprove(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.PairingResolveParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.RequestID == "" {
		return nil, protocol.InvalidRequest("requestId required")
	}

	node, err := g.pairing.Approve(ctx, p.RequestID)
	if errors.Is(err, pairing.ErrUnknownRequest) {
		return nil, protocol.InvalidRequest("unknown pairing request %s", p.RequestID)
	}
	if err != nil {
		return nil, protocol.Unavailable("approving pairing: %v", err)
	}
	return map[string]string{
		"nodeId":      node.NodeID,
		"token":       node.Token,
		"displayName": node.DisplayName,
	}, nil
}

// handlePairingReject resolves a pending request without pairing.
func (g *Gateway) handlePairingReject(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.PairingResolveParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.RequestID == "" {
		return nil, protocol.InvalidRequest("requestId required")
	}

	nodeID, err := g.pairing.Reject(p.RequestID)
	if errors.Is(err, pairing.ErrUnknownRequest) {
		return nil, protocol.InvalidRequest("unknown pairing request %s", p.RequestID)
	}
	if err != nil {
		return nil, protocol.Unavailable("rejecting pairing: %v", err)
	}
	return map[string]string{"nodeId": nodeID, "requestId": p.RequestID}, nil
}

// handlePairingPending lists unresolved pairing requests.
func (g *Gateway) handlePairingPending(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	pending := g.pairing.Pending()
	sort.Slice(pending, func(i, j int) bool { return pending[i].NodeID < pending[j].NodeID })
	return map[string]any{"requests": pending}, nil
}

// nodeView is a paired node plus its live reachability.
type nodeView struct {
	*pairing.Node
	Connected bool `json:"connected"`
}

// handlePairingList lists paired nodes with their connection state.
func (g *Gateway) handlePairingList(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	nodes, err := g.pairing.Nodes(ctx)
	if err != nil {
		return nil, protocol.Unavailable("listing paired nodes: %v", err)
	}

	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, nodeView{Node: node, Connected: g.bridge.Connected(node.NodeID)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].NodeID < views[j].NodeID })
	return map[string]any{"nodes": views}, nil
}

// handlePairingRevoke removes an existing pairing and drops the node's live
// connection if it has one.
func (g *Gateway) handlePairingRevoke(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.PairingRevokeParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.NodeID == "" {
		return nil, protocol.InvalidRequest("nodeId required")
	}

	err := g.pairing.Revoke(ctx, p.NodeID)
	if errors.Is(err, pairing.ErrNodeNotFound) {
		return nil, protocol.InvalidRequest("node %s is not paired", p.NodeID)
	}
	if err != nil {
		return nil, protocol.Unavailable("revoking pairing: %v", err)
	}
	if conn, ok := g.bridge.Get(p.NodeID); ok {
		g.bridge.Unregister(conn)
	}
	return map[string]string{"nodeId": p.NodeID}, nil
}

// handleNodeConnect authenticates a paired device's connection and turns
// this RPC session into its invoke channel.
func (g *Gateway) handleNodeConnect(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.NodeConnectParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.NodeID == "" || p.Token == "" {
		return nil, protocol.InvalidRequest("nodeId and token required")
	}
	if err := g.pairing.VerifyToken(ctx, p.NodeID, p.Token); err != nil {
		return nil, protocol.InvalidRequest("node authentication failed")
	}

	conn := bridge.NewConnection(p.NodeID, c, g.logger)
	c.attachNode(conn)
	g.bridge.Register(conn)
	return map[string]any{"nodeId": p.NodeID, "connected": true}, nil
}

// handleNodeResult routes a device's reply to its waiting invocation.
func (g *Gateway) handleNodeResult(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.NodeResultParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.ID == "" {
		return nil, protocol.InvalidRequest("id required")
	}
	conn := c.nodeConn()
	if conn == nil {
		return nil, protocol.InvalidRequest("connection is not an authenticated node")
	}

	conn.HandleResult(p.ID, &bridge.Result{
		OK:          p.OK,
		PayloadJSON: p.PayloadJSON,
		Error:       p.Error,
	})
	return map[string]bool{"accepted": true}, nil
}

// handleNodeInvoke calls a capability on a connected node. Unreachable
// nodes fail fast as UNAVAILABLE instead of waiting out the timeout.
func (g *Gateway) handleNodeInvoke(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	var p protocol.InvokeParams
	if perr := decodeParams(req.Params, &p); perr != nil {
		return nil, perr
	}
	if p.NodeID == "" {
		return nil, protocol.InvalidRequest("nodeId required")
	}
	if p.Command == "" {
		return nil, protocol.InvalidRequest("command required")
	}

	var timeout time.Duration
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	res, perr := g.bridge.Invoke(ctx, p.NodeID, p.Command, p.ParamsJSON, timeout)
	if perr != nil {
		return nil, perr
	}
	return protocol.InvokeResult{
		OK:          res.OK,
		PayloadJSON: res.PayloadJSON,
		Error:       res.Error,
	}, nil
}

// handleNodeList reports the node IDs with a live connection.
func (g *Gateway) handleNodeList(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error) {
	ids := g.bridge.List()
	sort.Strings(ids)
	return map[string]any{"nodes": ids}, nil
}
