// ABOUTME: Pairing state machine for remote devices: pending requests, approval, rejection.
// ABOUTME: Pending requests are memory-resident; approved nodes persist through the Store.

package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pairing errors. ErrUnknownRequest maps to INVALID_REQUEST at the
// protocol layer: the caller named a request ID that does not exist.
var (
	ErrUnknownRequest = errors.New("unknown pairing request")
	ErrNodeNotFound   = errors.New("node not paired")
)

// Broadcast event names published when pairing state changes.
const (
	EventRequested = "pairing.requested"
	EventApproved  = "pairing.approved"
	EventRejected  = "pairing.rejected"
	EventRevoked   = "pairing.revoked"
)

// PendingRequest is an unresolved announcement from an unpaired device.
// Exactly one exists per announcing node; re-announcement updates it in
// place.
type PendingRequest struct {
	RequestID   string    `json:"requestId"`
	NodeID      string    `json:"nodeId"`
	DisplayName string    `json:"displayName,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	RemoteIP    string    `json:"remoteIp,omitempty"`
	Repair      bool      `json:"repair,omitempty"`
	ObservedAt  time.Time `json:"observedAt"`
}

// Node is a device the gateway trusts. Trust (pairing) is distinct from
// reachability: a paired node may or may not have a live connection.
type Node struct {
	NodeID      string    `json:"nodeId"`
	Token       string    `json:"-"`
	DisplayName string    `json:"displayName,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

// Store persists paired nodes across gateway restarts.
type Store interface {
	SaveNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	DeleteNode(ctx context.Context, nodeID string) error
	ListNodes(ctx context.Context) ([]*Node, error)
}

// TokenMinter mints the device token handed out on approval.
type TokenMinter interface {
	Mint(nodeID string) (string, error)
}

// Broadcaster pushes pairing state changes to connected listeners.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Announcement is the metadata a device sends when requesting pairing.
type Announcement struct {
	NodeID      string
	DisplayName string
	Platform    string
	RemoteIP    string
}

// Service owns the pairing state machine:
// unknown -> pending -> {paired, rejected}.
type Service struct {
	mu      sync.Mutex
	pending map[string]*PendingRequest // requestID -> request
	byNode  map[string]string          // nodeID -> requestID

	store     Store
	tokens    TokenMinter
	broadcast Broadcaster
	logger    *slog.Logger
}

// NewService creates a pairing service. broadcast may be nil.
func NewService(store Store, tokens TokenMinter, broadcast Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pending:   make(map[string]*PendingRequest),
		byNode:    make(map[string]string),
		store:     store,
		tokens:    tokens,
		broadcast: broadcast,
		logger:    logger.With("component", "pairing"),
	}
}

// Request records a device announcement. A first announcement creates a
// pending request and broadcasts it; a re-announcement before resolution
// updates the existing request's metadata in place and is not an error.
// An announcement from an already-paired node creates a repair request.
func (s *Service) Request(ctx context.Context, ann Announcement) (*PendingRequest, error) {
	if ann.NodeID == "" {
		return nil, errors.New("nodeId required")
	}

	repair := false
	if _, err := s.store.GetNode(ctx, ann.NodeID); err == nil {
		repair = true
	} else if !errors.Is(err, ErrNodeNotFound) {
		return nil, fmt.Errorf("checking paired node: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reqID, ok := s.byNode[ann.NodeID]; ok {
		// Re-announcement: refresh metadata, keep the request ID stable.
		req := s.pending[reqID]
		req.DisplayName = ann.DisplayName
		req.Platform = ann.Platform
		req.RemoteIP = ann.RemoteIP
		req.ObservedAt = time.Now()
		s.logger.Debug("pairing request refreshed", "node_id", ann.NodeID, "request_id", reqID)
		copied := *req
		return &copied, nil
	}

	req := &PendingRequest{
		RequestID:   uuid.New().String(),
		NodeID:      ann.NodeID,
		DisplayName: ann.DisplayName,
		Platform:    ann.Platform,
		RemoteIP:    ann.RemoteIP,
		Repair:      repair,
		ObservedAt:  time.Now(),
	}
	s.pending[req.RequestID] = req
	s.byNode[ann.NodeID] = req.RequestID

	s.logger.Info("pairing requested",
		"node_id", ann.NodeID,
		"request_id", req.RequestID,
		"platform", ann.Platform,
		"repair", repair,
	)
	s.publish(EventRequested, req)

	copied := *req
	return &copied, nil
}

// Approve resolves a pending request into a paired node: mints a token,
// persists the node (overwriting any previous pairing for repairs),
// removes the pending entry, and broadcasts the resolution.
func (s *Service) Approve(ctx context.Context, requestID string) (*Node, error) {
	s.mu.Lock()
	req, ok := s.pending[requestID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownRequest
	}
	delete(s.pending, requestID)
	delete(s.byNode, req.NodeID)
	s.mu.Unlock()

	token, err := s.tokens.Mint(req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("minting device token: %w", err)
	}

	now := time.Now()
	node := &Node{
		NodeID:      req.NodeID,
		Token:       token,
		DisplayName: req.DisplayName,
		Platform:    req.Platform,
		CreatedAt:   now,
		ApprovedAt:  now,
	}
	if err := s.store.SaveNode(ctx, node); err != nil {
		return nil, fmt.Errorf("persisting paired node: %w", err)
	}

	s.logger.Info("pairing approved", "node_id", node.NodeID, "request_id", requestID)
	s.publish(EventApproved, map[string]string{"nodeId": node.NodeID, "requestId": requestID})
	return node, nil
}

// Reject removes a pending request without pairing the node. Returns the
// node ID of the rejected request.
func (s *Service) Reject(requestID string) (string, error) {
	s.mu.Lock()
	req, ok := s.pending[requestID]
	if !ok {
		s.mu.Unlock()
		return "", ErrUnknownRequest
	}
	delete(s.pending, requestID)
	delete(s.byNode, req.NodeID)
	s.mu.Unlock()

	s.logger.Info("pairing rejected", "node_id", req.NodeID, "request_id", requestID)
	s.publish(EventRejected, map[string]string{"nodeId": req.NodeID, "requestId": requestID})
	return req.NodeID, nil
}

// Revoke removes an existing pairing. The node's token stops verifying
// against the store and its next announcement starts a fresh request.
func (s *Service) Revoke(ctx context.Context, nodeID string) error {
	if err := s.store.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	s.logger.Info("pairing revoked", "node_id", nodeID)
	s.publish(EventRevoked, map[string]string{"nodeId": nodeID})
	return nil
}

// Pending returns all unresolved pairing requests.
func (s *Service) Pending() []*PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*PendingRequest, 0, len(s.pending))
	for _, req := range s.pending {
		copied := *req
		out = append(out, &copied)
	}
	return out
}

// Nodes returns all paired nodes.
func (s *Service) Nodes(ctx context.Context) ([]*Node, error) {
	return s.store.ListNodes(ctx)
}

// VerifyToken checks a presented device token against the stored pairing.
func (s *Service) VerifyToken(ctx context.Context, nodeID, token string) error {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Token != token {
		return errors.New("token mismatch")
	}
	return nil
}

func (s *Service) publish(event string, payload any) {
	if s.broadcast != nil {
		s.broadcast.Broadcast(event, payload)
	}
}
