package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/users"
	"golang.org/x/sync/singleflight"
)

// Session is a login session created by the external auth flow
type Session struct {
	ID        string    `json:"-"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session has expired at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionConfig tunes the session lookup cache
type SessionConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultSessionConfig returns the default cache settings
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CacheSize: 10000,
		CacheTTL:  time.Minute,
	}
}

// SessionStore verifies bearer session ids against the sessions table.
// Session rows are cached; the user row is always read fresh so credit
// balances and subscription state are never stale.
type SessionStore struct {
	db      *sql.DB
	users   users.Store
	cache   *lru.LRU[string, *Session]
	group   singleflight.Group
	metrics *observability.Metrics
	now     func() time.Time
}

// NewSessionStore creates a new SessionStore
func NewSessionStore(db *sql.DB, userStore users.Store, cfg SessionConfig, metrics *observability.Metrics) *SessionStore {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultSessionConfig().CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultSessionConfig().CacheTTL
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}

	return &SessionStore{
		db:      db,
		users:   userStore,
		cache:   lru.NewLRU[string, *Session](cfg.CacheSize, nil, cfg.CacheTTL),
		metrics: metrics,
		now:     time.Now,
	}
}

// Authenticate resolves a session id to its user. Unknown, expired and
// orphaned sessions all return apperr.ErrUnauthenticated.
func (s *SessionStore) Authenticate(ctx context.Context, sessionID string) (*users.User, *Session, error) {
	if sessionID == "" {
		return nil, nil, apperr.ErrUnauthenticated
	}

	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	if session.Expired(s.now()) {
		s.cache.Remove(sessionID)
		return nil, nil, apperr.ErrUnauthenticated
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.cache.Remove(sessionID)
		return nil, nil, apperr.ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}

	return user, session, nil
}

// Logout deletes the session row and drops it from this process's cache.
// Other processes keep accepting their cached copy for up to CacheTTL.
func (s *SessionStore) Logout(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.Invalidate(sessionID)
	return nil
}

// Invalidate drops a cached session so the next request re-reads it. Only
// this process's cache is affected; other processes see the change once
// their entry expires after CacheTTL (one minute by default).
func (s *SessionStore) Invalidate(sessionID string) {
	s.cache.Remove(sessionID)
}

func (s *SessionStore) lookup(ctx context.Context, sessionID string) (*Session, error) {
	if session, ok := s.cache.Get(sessionID); ok {
		s.metrics.SessionCacheHitsTotal.Inc()
		return session, nil
	}
	s.metrics.SessionCacheMissesTotal.Inc()

	v, err, _ := s.group.Do(sessionID, func() (interface{}, error) {
		session := &Session{ID: sessionID}
		err := s.db.QueryRowContext(ctx,
			`SELECT user_id, expires_at FROM sessions WHERE id = $1`, sessionID,
		).Scan(&session.UserID, &session.ExpiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrUnauthenticated
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		s.cache.Add(sessionID, session)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}
