// Package server exposes the oracle adapter over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/server/handler"
	"github.com/alanyoungcy/oracleadapter/internal/server/middleware"
	"github.com/alanyoungcy/oracleadapter/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables bearer auth
	RateLimit   int
	RateWindow  time.Duration
}

// Deps are the collaborators the routes are built from. Limiter, Hub and
// Probes may be nil.
type Deps struct {
	Oracle   handler.OracleService
	Events   domain.EventSource
	Verifier middleware.CallVerifier
	Limiter  domain.RateLimiter
	Hub      *ws.Hub
	Probes   map[string]func(context.Context) error
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, deps, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// NewHandler builds the routed handler without binding a listener.
func NewHandler(cfg Config, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	signed := middleware.Signed(deps.Verifier)

	health := handler.NewHealthHandler(deps.Oracle, deps.Probes, logger)
	ids := handler.NewIdentifierHandler(deps.Oracle, logger)
	owner := handler.NewOwnerHandler(deps.Oracle, logger)
	prices := handler.NewPriceHandler(deps.Oracle, logger)
	requests := handler.NewRequestHandler(deps.Oracle, logger)
	events := handler.NewEventHandler(deps.Events, logger)
	audit := handler.NewAuditHandler(deps.Oracle, logger)

	mux.HandleFunc("GET /api/health", health.HealthCheck)

	// Registry.
	mux.HandleFunc("GET /api/identifiers", ids.List)
	mux.HandleFunc("GET /api/identifiers/{id}", ids.Get)
	mux.HandleFunc("GET /api/identifiers/{id}/supported", ids.Supported)
	mux.Handle("POST /api/identifiers", signed(http.HandlerFunc(ids.Add)))
	mux.Handle("DELETE /api/identifiers/{id}", signed(http.HandlerFunc(ids.Remove)))

	// Authority.
	mux.HandleFunc("GET /api/owner", owner.Get)
	mux.Handle("POST /api/owner/transfer", signed(http.HandlerFunc(owner.Transfer)))

	// Prices and job requests.
	mux.HandleFunc("POST /api/prices/request", prices.Request)
	mux.HandleFunc("GET /api/prices/{id}", prices.Get)
	mux.Handle("POST /api/fulfill", signed(http.HandlerFunc(requests.Fulfill)))
	mux.HandleFunc("GET /api/requests", requests.List)
	mux.HandleFunc("GET /api/requests/{token}", requests.Get)

	mux.HandleFunc("GET /api/events", events.Recent)
	mux.HandleFunc("GET /api/audit", audit.List)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
