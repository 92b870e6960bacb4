package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/auth"
	"github.com/platinummonkey/docmeter/pkg/contextkeys"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/users"
)

// Authenticator resolves a session id to its user
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*users.User, *auth.Session, error)
}

// AuthMiddleware provides session authentication middleware
type AuthMiddleware struct {
	sessions Authenticator
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(sessions Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <session id>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAppError(w, r, apperr.Unauthenticated("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteAppError(w, r, apperr.Unauthenticated("invalid authorization header format"))
			return
		}

		user, session, err := m.sessions.Authenticate(r.Context(), parts[1])
		if err != nil {
			if apperr.IsKind(err, apperr.KindUnauthenticated) {
				httputil.WriteAppError(w, r, apperr.Unauthenticated("invalid or expired session"))
				return
			}
			httputil.WriteAppError(w, r, err)
			return
		}

		userID := fmt.Sprintf("%d", user.ID)
		ctx := contextkeys.WithUser(r.Context(), user)
		ctx = contextkeys.WithSession(ctx, session)
		ctx = contextkeys.WithRateLimitKey(ctx, "user:"+userID)
		ctx = observability.WithUserID(ctx, userID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUser returns the authenticated user, or nil
func CurrentUser(r *http.Request) *users.User {
	user, _ := r.Context().Value(contextkeys.UserKey).(*users.User)
	return user
}

// CurrentSession returns the resolved session, or nil
func CurrentSession(r *http.Request) *auth.Session {
	session, _ := r.Context().Value(contextkeys.SessionKey).(*auth.Session)
	return session
}

// RequireUser rejects requests without an authenticated user with 401
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r) == nil {
			httputil.WriteAppError(w, r, apperr.Unauthenticated("Only authenticated users are allowed to perform this operation"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects unauthenticated requests with 401 and non-admins with 403
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			httputil.WriteAppError(w, r, apperr.Unauthenticated("Only authenticated users are allowed to perform this operation"))
			return
		}
		if !user.IsAdmin {
			httputil.WriteAppError(w, r, apperr.Forbidden("Only admins are allowed to perform this operation"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
