// Package auth verifies session bearer tokens.
//
// Sessions are created by the external signup/login flow and stored in the
// sessions table. This package only resolves a session id to its user:
//
//	user, session, err := store.Authenticate(ctx, sessionID)
//	if errors.Is(err, apperr.ErrUnauthenticated) {
//		// 401
//	}
//
// Lookups go through an expirable LRU cache. Concurrent misses for the same
// session id are collapsed with singleflight so a burst of requests from one
// client costs one query.
package auth
