package middleware

import (
	"context"

	"github.com/sydlexius/media-reaper/internal/auth"
)

// WithTestUser injects a user into the context for handler tests that
// bypass the Auth middleware.
func WithTestUser(ctx context.Context, u *auth.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}
