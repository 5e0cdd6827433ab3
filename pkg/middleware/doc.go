// Package middleware provides the HTTP authentication and rate limiting
// middleware.
//
// AuthMiddleware resolves "Authorization: Bearer chub_..." through the token
// store and puts the token and its user ID in the request context, where
// rbac.Middleware.LoadActor picks it up:
//
//	authn := middleware.NewAuthMiddleware(tokenStore, auditLogger, logger, false)
//	router.Use(authn.Handler)
//
// RateLimitMiddleware limits authenticated users by user ID and anonymous
// callers by client IP, with either limiter implementation:
//
//	users := middleware.NewRedisRateLimiter(redisClient, middleware.PerUserRateLimitConfig(), "")
//	anon := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	router.Use(middleware.NewRateLimitMiddleware(users, anon, logger, metrics).Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
//
// Redis errors fail open: the request is served and a warning logged.
package middleware
