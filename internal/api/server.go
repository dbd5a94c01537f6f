package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/ws"
)

// Session is the read side of an orchestrated cluster session.
type Session interface {
	SessionID() string
	State() cluster.State
	Handle() cluster.Handle
	Status(ctx context.Context) (cluster.ClusterStatus, error)
}

// Server exposes session status, live events and metrics over HTTP.
type Server struct {
	session  Session
	hub      *ws.Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	addr     string
	server   *http.Server
}

// Option configures the API server.
type Option func(*Server)

// WithHub streams lifecycle events on /api/ws.
func WithHub(hub *ws.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithMetrics serves the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new API server listening on addr.
func New(session Session, logger *slog.Logger, addr string, opts ...Option) *Server {
	s := &Server{
		session: session,
		logger:  logger,
		addr:    addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and serves in the background. Serve errors
// after a successful bind are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.server = &http.Server{Handler: requestLogger(s.logger, mux)}

	s.logger.Info("starting status server", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/session", s.handleGetSession)
	mux.HandleFunc("GET /api/cluster", s.handleGetCluster)

	if s.hub != nil {
		mux.HandleFunc("/api/ws", s.hub.HandleWebSocket)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
