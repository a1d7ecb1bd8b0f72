// Package server exposes the engine's read-only status API over HTTP and
// streams live cycle reports and alerts over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perparb/internal/server/handler"
	"github.com/alanyoungcy/perparb/internal/server/middleware"
	"github.com/alanyoungcy/perparb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the route handlers. Executions and Hub may be nil
// when no journal or bus is configured.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Executions *handler.ExecutionHandler
	Hub        *ws.Hub
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter may be nil.
func NewServer(cfg Config, h Handlers, limiter middleware.Limiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health.HealthCheck)
	mux.HandleFunc("GET /status", h.Status.GetStatus)
	if h.Executions != nil {
		mux.HandleFunc("GET /executions", h.Executions.ListRecent)
		mux.HandleFunc("GET /executions/{intent_id}", h.Executions.GetByIntent)
		mux.HandleFunc("GET /audit", h.Executions.ListAudit)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/healthz")(chain)
	if limiter != nil {
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
