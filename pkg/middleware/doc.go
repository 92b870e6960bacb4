// Package middleware provides HTTP middleware for session authentication,
// admin authorization and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Session bearer authentication
//
//	authMW := middleware.NewAuthMiddleware(sessionStore, false)
//	router.Use(authMW.Handler)
//	// Extracts Bearer session id, resolves the user, adds it to the request context
//
// RequireUser / RequireAdmin: 401 without a user, 403 for non-admins
//
//	admin.Use(middleware.RequireAdmin)
//
// RateLimitMiddleware: Per-caller limits on the proxy endpoints. Backed by
// DistributedRateLimiter (Redis INCR with a window expiry) when Redis is
// configured, otherwise by the in-process token bucket RateLimiter.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	proxy.Use(middleware.NewRateLimitMiddleware(limiter, "proxy", metrics).Handler)
package middleware
