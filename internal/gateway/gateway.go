// ABOUTME: Gateway orchestrator wiring scheduler, jobs, pairing, bridge, and HTTP serving.
// ABOUTME: Serves the RPC websocket, health and metrics endpoints, and the admin API.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/hearth-gateway/internal/agent"
	"github.com/2389/hearth-gateway/internal/bridge"
	"github.com/2389/hearth-gateway/internal/config"
	"github.com/2389/hearth-gateway/internal/idempotency"
	"github.com/2389/hearth-gateway/internal/jobs"
	"github.com/2389/hearth-gateway/internal/lanes"
	"github.com/2389/hearth-gateway/internal/metrics"
	"github.com/2389/hearth-gateway/internal/pairing"
	"github.com/2389/hearth-gateway/internal/runs"
)

// Gateway orchestrates the hearth-gateway server components: the per-lane
// scheduler, the job registry, pairing, the device bridge, and the HTTP
// server carrying the RPC websocket, the admin API, health, and metrics.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	cache       *idempotency.Cache
	bus         *jobs.Bus
	jobs        *jobs.Registry
	sched       *lanes.Scheduler
	runs        *runs.Coordinator
	pairing     *pairing.Service
	store       *pairing.SQLiteStore
	bridge      *bridge.Manager
	broadcaster *Broadcaster
	runner      agent.Runner
	metrics     *metrics.Metrics
	registry    *prometheus.Registry

	handlers   map[string]handlerFunc
	httpServer *http.Server

	// baseCtx outlives individual connections; runs and subscriptions hang
	// off it so shutdown cancels them all.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a gateway from configuration. The runner executes agent
// jobs; pass an agent.NoopRunner for development.
func New(cfg *config.Config, runner agent.Runner, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HEARTH_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	store, err := pairing.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:      cfg,
		logger:      logger.With("component", "gateway"),
		cache:       idempotency.New(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries),
		sched:       lanes.NewScheduler(logger),
		runs:        runs.NewCoordinator(logger),
		store:       store,
		bridge:      bridge.NewManager(logger),
		broadcaster: NewBroadcaster(logger),
		runner:      runner,
		metrics:     m,
		registry:    registry,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
	}

	g.bus = jobs.NewBus(logger)
	g.jobs = jobs.NewRegistry(g.bus, logger)
	g.pairing = pairing.NewService(store, pairing.NewJWTMinter([]byte(cfg.Auth.TokenSecret)), g.broadcaster, logger)

	g.sched.SetObserver(m.LaneChanged)
	g.bridge.SetOnChange(m.NodesConnected)
	for lane, limit := range cfg.Lanes {
		g.sched.Configure(lane, limit)
	}

	g.handlers = g.routes()
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// router builds the HTTP surface: RPC websocket, health, metrics, and the
// JSON admin API used by hearth-admin.
func (g *Gateway) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	r.Get("/rpc", g.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/pairing/pending", g.apiPairingPending)
		r.Post("/pairing/approve", g.apiPairingApprove)
		r.Post("/pairing/reject", g.apiPairingReject)
		r.Post("/pairing/revoke", g.apiPairingRevoke)
		r.Get("/nodes", g.apiNodes)
		r.Get("/lanes", g.apiLanes)
	})
	return r
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "http_addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		g.close()
		return err
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := g.httpServer.Shutdown(shutdownCtx)
	g.close()
	return err
}

// close releases gateway resources. Safe after Run returns.
func (g *Gateway) close() {
	g.baseCancel()
	g.broadcaster.Close()
	g.bus.Close()
	g.cache.Close()
	if err := g.store.Close(); err != nil {
		g.logger.Warn("closing store", "error", err)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the gateway is ready when its store
// answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Admin API handlers. These mirror the RPC pairing and lane methods for
// CLI use; mutating endpoints go through the same pairing service so
// broadcasts still fire.

func (g *Gateway) apiPairingPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"requests": g.pairing.Pending()})
}

type resolveRequest struct {
	RequestID string `json:"requestId"`
}

func (g *Gateway) apiPairingApprove(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId required"})
		return
	}

	node, err := g.pairing.Approve(r.Context(), req.RequestID)
	if errors.Is(err, pairing.ErrUnknownRequest) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown pairing request"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"nodeId":      node.NodeID,
		"token":       node.Token,
		"displayName": node.DisplayName,
	})
}

func (g *Gateway) apiPairingReject(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId required"})
		return
	}

	nodeID, err := g.pairing.Reject(req.RequestID)
	if errors.Is(err, pairing.ErrUnknownRequest) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown pairing request"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nodeId": nodeID})
}

func (g *Gateway) apiPairingRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"nodeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nodeId required"})
		return
	}

	err := g.pairing.Revoke(r.Context(), req.NodeID)
	if errors.Is(err, pairing.ErrNodeNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not paired"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if conn, ok := g.bridge.Get(req.NodeID); ok {
		g.bridge.Unregister(conn)
	}
	writeJSON(w, http.StatusOK, map[string]string{"nodeId": req.NodeID})
}

func (g *Gateway) apiNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := g.pairing.Nodes(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, nodeView{Node: node, Connected: g.bridge.Connected(node.NodeID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": views})
}

func (g *Gateway) apiLanes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lanes": g.sched.Stats()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
