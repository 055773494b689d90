// ABOUTME: Routes RPC request frames to method handlers with idempotent replay.
// ABOUTME: Duplicate mutating requests resolve to the recorded outcome, marked meta.cached.

package gateway

import (
	"context"
	"encoding/json"

	"github.com/2389/hearth-gateway/internal/bridge"
	"github.com/2389/hearth-gateway/internal/idempotency"
	"github.com/2389/hearth-gateway/internal/protocol"
)

// session is the per-connection surface handlers depend on: late frame
// delivery for finalization, the peer address, and device attachment once
// the connection authenticates as a node.
type session interface {
	bridge.Sender
	send(resp *protocol.Response)
	remoteIP() string
	attachNode(conn *bridge.Connection)
	nodeConn() *bridge.Connection
}

// handlerFunc executes one RPC method. idemKey is the claimed idempotency
// cache key, or empty when the request carried no idempotency key; handlers
// that finalize asynchronously use it to record their terminal outcome.
type handlerFunc func(ctx context.Context, c session, req *protocol.Request, idemKey string) (any, *protocol.Error)

// mutating marks the methods whose side effects must run at most once per
// idempotency key. Read-only methods ignore idempotency keys entirely.
var mutating = map[string]bool{
	protocol.MethodAgentRun:       true,
	protocol.MethodAgentCancel:    true,
	protocol.MethodSessionStop:    true,
	protocol.MethodLaneConfigure:  true,
	protocol.MethodPairingApprove: true,
	protocol.MethodPairingReject:  true,
	protocol.MethodPairingRevoke:  true,
	protocol.MethodNodeInvoke:     true,
}

// routes builds the method table. Called once from New.
func (g *Gateway) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.MethodAgentRun:       g.handleAgentRun,
		protocol.MethodAgentWait:      g.handleAgentWait,
		protocol.MethodAgentCancel:    g.handleAgentCancel,
		protocol.MethodSessionStop:    g.handleSessionStop,
		protocol.MethodLaneConfigure:  g.handleLaneConfigure,
		protocol.MethodLaneStats:      g.handleLaneStats,
		protocol.MethodPairingRequest: g.handlePairingRequest,
		protocol.MethodPairingApprove: g.handlePairingApprove,
		protocol.MethodPairingReject:  g.handlePairingReject,
		protocol.MethodPairingPending: g.handlePairingPending,
		protocol.MethodPairingList:    g.handlePairingList,
		protocol.MethodPairingRevoke:  g.handlePairingRevoke,
		protocol.MethodNodeConnect:    g.handleNodeConnect,
		protocol.MethodNodeResult:     g.handleNodeResult,
		protocol.MethodNodeInvoke:     g.handleNodeInvoke,
		protocol.MethodNodeList:       g.handleNodeList,
	}
}

// dispatch validates one request frame, applies idempotent replay, and runs
// the method handler. It always returns a response frame for the caller.
func (g *Gateway) dispatch(ctx context.Context, c session, req *protocol.Request) *protocol.Response {
	if req.ID == "" {
		return protocol.ErrorResponse("", protocol.InvalidRequest("id required"))
	}
	handler, ok := g.handlers[req.Method]
	if !ok {
		return protocol.ErrorResponse(req.ID, protocol.InvalidRequest("unknown method %q", req.Method))
	}

	idemKey := ""
	if mutating[req.Method] {
		if ik := extractIdempotencyKey(req.Params); ik != "" {
			idemKey = idempotency.Key(req.Method, ik)
			if g.cache.Begin(idemKey) {
				return g.replay(ctx, req.ID, idemKey)
			}
		}
	}

	payload, perr := handler(ctx, c, req, idemKey)

	var resp *protocol.Response
	if perr != nil {
		resp = protocol.ErrorResponse(req.ID, perr)
	} else {
		resp = protocol.OKResponse(req.ID, payload)
	}

	if idemKey != "" {
		g.cache.StoreAck(idemKey, idempotency.Outcome{
			OK:      resp.OK,
			Payload: resp.Payload,
			Err:     resp.Error,
		})
	}
	return resp
}

// replay resolves a duplicate mutating request from the cache, blocking
// briefly if the original call has not recorded its acknowledgement yet.
func (g *Gateway) replay(ctx context.Context, reqID, idemKey string) *protocol.Response {
	out, ok := g.cache.Await(ctx, idemKey)
	if !ok {
		return protocol.ErrorResponse(reqID, protocol.Unavailable("idempotent outcome no longer available"))
	}
	return &protocol.Response{
		ID:      reqID,
		OK:      out.OK,
		Payload: out.Payload,
		Error:   out.Err,
		Meta:    &protocol.Meta{Cached: true},
	}
}

// extractIdempotencyKey pulls the optional idempotencyKey field out of a
// method's params without knowing the full params shape.
func extractIdempotencyKey(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var ip protocol.IdempotentParams
	if err := json.Unmarshal(params, &ip); err != nil {
		return ""
	}
	return ip.IdempotencyKey
}
