// Package server hosts the read-only status API and the websocket push hub.
// The core runs fine without it; everything here reads projections.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/server/handler"
	"github.com/dkwok94/stratcore/internal/server/middleware"
	"github.com/dkwok94/stratcore/internal/server/ws"
)

// API rate cap per client IP. The endpoints are cheap reads; this only
// guards against runaway dashboards.
const (
	apiRateLimit  = 120
	apiRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates the endpoints the server registers. Metrics is the
// Prometheus exposition handler; nil fields are skipped.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Bots          *handler.BotsHandler
	Positions     *handler.PositionsHandler
	Risk          *handler.RiskHandler
	Opportunities *handler.OpportunitiesHandler
	Flags         *handler.FlagsHandler
	Metrics       http.Handler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain: rate
// limiting innermost, then request logging, then CORS. limiter may be nil to
// disable the rate cap.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /healthz", handlers.Health.Check)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/v1/status", handlers.Status.Get)
	}
	if handlers.Bots != nil {
		mux.HandleFunc("GET /api/v1/bots", handlers.Bots.List)
	}
	if handlers.Positions != nil {
		mux.HandleFunc("GET /api/v1/positions", handlers.Positions.List)
	}
	if handlers.Risk != nil {
		mux.HandleFunc("GET /api/v1/risk", handlers.Risk.Get)
	}
	if handlers.Opportunities != nil {
		mux.HandleFunc("GET /api/v1/opportunities", handlers.Opportunities.List)
	}
	if handlers.Flags != nil {
		mux.HandleFunc("GET /api/v1/flags", handlers.Flags.Get)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, apiRateLimit, apiRateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening. It blocks until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
