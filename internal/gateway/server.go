package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/auth"
	"github.com/haasonsaas/notesagent/internal/observability"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8000".
	Addr string

	// APIPrefix is prepended to API routes. Default: /api/v1
	APIPrefix string

	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration

	// MetricsPath serves Gatherer. Metrics are not served when Gatherer is nil.
	MetricsPath string
	Gatherer    prometheus.Gatherer

	// Health reports readiness for /healthz and {prefix}/health/ready.
	// Nil always reports ok.
	Health func(ctx context.Context) error

	// Version is reported by {prefix}/health. Default: dev
	Version string

	Auth *auth.Service
	Chat ChatRunner

	// Notes serves the notes REST resources. They are not mounted when nil.
	Notes NoteService

	// Enricher receives notes written over REST. Nil disables enrichment.
	Enricher agent.Enricher

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the notes assistant HTTP server.
type Server struct {
	config  Config
	logger  *observability.Logger
	handler http.Handler
}

// New builds a server and its routes.
func New(config Config) (*Server, error) {
	if config.Chat == nil {
		return nil, errors.New("gateway: chat runner is required")
	}
	if config.Auth == nil || !config.Auth.Enabled() {
		return nil, errors.New("gateway: auth must be configured with a jwt secret")
	}
	if config.APIPrefix == "" {
		config.APIPrefix = "/api/v1"
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = 10 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	s := &Server{config: config, logger: config.Logger.WithFields("component", "gateway")}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled. In-flight streams get
// ShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info(ctx, "starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info(shutdownCtx, "shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "http server shutdown error", "error", err)
		_ = server.Close()
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
