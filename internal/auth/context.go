package auth

import (
	"context"

	"github.com/haasonsaas/notesagent/internal/observability"
)

type userContextKey struct{}

// WithUserID attaches an authenticated user id to the context. The id is also
// added to the logging context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	ctx = observability.AddUserID(ctx, userID)
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey{}).(string)
	return userID, ok && userID != ""
}
