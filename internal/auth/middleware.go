package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/notesagent/internal/observability"
)

// Middleware requires a valid bearer token and puts its subject on the
// request context. Requests without one are answered with 401.
func Middleware(service *Service, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header)
			if token == "" {
				unauthorized(w, ErrMissingToken)
				return
			}
			userID, err := service.ValidateToken(token)
			if err != nil {
				logger.Warn(r.Context(), "jwt validation failed", "error", err)
				if errors.Is(err, ErrAuthDisabled) {
					unauthorized(w, ErrAuthDisabled)
					return
				}
				unauthorized(w, ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func extractBearer(h http.Header) string {
	for _, value := range h.Values("Authorization") {
		if len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(value[len("bearer "):])
		}
	}
	return ""
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="notesagent"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}
