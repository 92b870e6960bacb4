// Package contextkeys provides centralized context key definitions
//
// All context keys used across docmeter are defined here so that packages
// setting a value and packages reading it agree on one key.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithUser(ctx, user)
//	user, _ := ctx.Value(contextkeys.UserKey).(*users.User)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *users.User
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: credit, checkout, portal, files and admin endpoints
	UserKey Key = "user"

	// SessionKey contains *auth.Session
	// Set by: middleware.AuthMiddleware
	// Used by: handlers that need session expiry
	SessionKey Key = "session"

	// RateLimitKey contains the rate limit identity string
	// Set by: middleware.AuthMiddleware when a user is resolved
	// Used by: middleware.RateLimiter to bucket per user instead of per IP
	RateLimitKey Key = "rate_limit_key"
)

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithSession adds the resolved session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// WithRateLimitKey sets the identity used for rate limiting
func WithRateLimitKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, RateLimitKey, key)
}

// GetRateLimitKey returns the rate limit identity, or "" when unset
func GetRateLimitKey(ctx context.Context) string {
	if v, ok := ctx.Value(RateLimitKey).(string); ok {
		return v
	}
	return ""
}
