package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server hosts the HTTP API and the WebSocket endpoint on one listener
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

type ServerParams struct {
	Address string
	Handler http.Handler
	Logger  zerolog.Logger
}

func NewServer(params ServerParams) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              params.Address,
			Handler:           params.Handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Minute,
		},
		logger: params.Logger.With().Str("component", "http_server").Logger(),
	}
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
