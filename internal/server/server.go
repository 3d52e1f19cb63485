package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/handlers"
)

// Server is the coordinator HTTP server
type Server struct {
	config *common.Config
	logger arbor.ILogger
	mux    *http.ServeMux
	http   *http.Server
}

// New creates the HTTP server and registers all routes
func New(
	config *common.Config,
	logger arbor.ILogger,
	jobHandler *handlers.JobHandler,
	workerHandler *handlers.WorkerHandler,
	systemHandler *handlers.SystemHandler,
) *Server {
	s := &Server{
		config: config,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.setupRoutes(jobHandler, workerHandler, systemHandler)

	handler := recoveryMiddleware(logger, corsMiddleware(loggingMiddleware(logger, s.mux)))

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server starting")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
