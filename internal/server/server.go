package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avelar/feedgate/internal/cache"
	"github.com/avelar/feedgate/internal/config"
	"github.com/avelar/feedgate/internal/connection"
	"github.com/avelar/feedgate/internal/hub"
	"github.com/avelar/feedgate/internal/model"
	"github.com/avelar/feedgate/internal/state"
)

// TickerSource fetches market snapshots from the upstream REST API.
type TickerSource interface {
	GetTickers(ctx context.Context) ([]model.Ticker, error)
	GetTicker(ctx context.Context, symbol string) (model.Ticker, error)
}

// Upstream is the read-only view of the connection manager the server needs
// for health and debug reporting.
type Upstream interface {
	State() connection.State
	Authenticated() bool
	Stats() connection.ManagerStats
}

// Server is the downstream HTTP surface.
type Server struct {
	cfg       config.ServerConfig
	logger    *slog.Logger
	source    TickerSource
	cache     *cache.Cache[[]model.Ticker]
	tickerTTL time.Duration
	hub       *hub.Hub
	upstream  Upstream
	rec       *state.Reconciler

	started    time.Time
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New wires the server. upstream and rec may be nil in tests that only
// exercise the ticker surface.
func New(
	cfg config.ServerConfig,
	metricsPath string,
	source TickerSource,
	tickerCache *cache.Cache[[]model.Ticker],
	tickerTTL time.Duration,
	h *hub.Hub,
	upstream Upstream,
	rec *state.Reconciler,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		cache:     tickerCache,
		tickerTTL: tickerTTL,
		hub:       h,
		upstream:  upstream,
		rec:       rec,
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tickers", s.handleTickers)
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/state", s.handleDebugState)
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reply := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.upstream != nil {
		reply["upstream"] = s.upstream.State().String()
		reply["authenticated"] = s.upstream.Authenticated()
	}
	if s.rec != nil && !s.rec.LastUpdate().IsZero() {
		reply["last_update"] = s.rec.LastUpdate()
	}
	writeJSON(s.logger, w, http.StatusOK, reply)
}

func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	reply := map[string]any{}
	if s.upstream != nil {
		stats := s.upstream.Stats()
		reply["upstream"] = map[string]any{
			"state":                 stats.State.String(),
			"authenticated":         stats.Authenticated,
			"consecutive_failures":  stats.ConsecutiveFailures,
			"desired_subscriptions": stats.DesiredSubscriptions,
		}
	}
	if s.hub != nil {
		reply["subscribers"] = s.hub.Subscribers()
	}
	if s.rec != nil {
		reply["balances"] = s.rec.Balances()
		reply["positions"] = s.rec.Positions()
		reply["orders"] = s.rec.Orders()
		reply["last_update"] = s.rec.LastUpdate()
	}
	writeJSON(s.logger, w, http.StatusOK, reply)
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("response encode failed", "error", err)
	}
}

func writeError(logger *slog.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
