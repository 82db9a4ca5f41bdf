package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/notesagent/internal/auth"
)

func (s *Server) routes() http.Handler {
	prefix := "/" + strings.Trim(s.config.APIPrefix, "/")
	mux := http.NewServeMux()

	protect := auth.Middleware(s.config.Auth, s.logger)

	chat := NewChatHandler(s.config.Chat, s.logger)
	mux.Handle("POST "+prefix+"/chat/stream", protect(chat))
	if s.config.Notes != nil {
		NewNotesHandler(s.config.Notes, s.config.Enricher, s.logger).Register(mux, prefix, protect)
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET "+prefix+"/health", s.handleHealth)
	mux.HandleFunc("GET "+prefix+"/health/ready", s.handleReady)
	if s.config.Gatherer != nil {
		mux.Handle("GET "+s.config.MetricsPath, promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = accessMiddleware(s.logger, s.config.Metrics)(handler)
	handler = recoverMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.checkHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// handleHealth is liveness only; it never touches the store.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "notesagent",
		"version": s.config.Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.checkHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "database": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "connected"})
}

func (s *Server) checkHealth(ctx context.Context) error {
	if s.config.Health == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.config.Health(ctx); err != nil {
		s.logger.Warn(ctx, "health check failed", "error", err)
		return err
	}
	return nil
}
