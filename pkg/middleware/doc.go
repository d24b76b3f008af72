// Package middleware provides HTTP middleware for management API rate limiting.
//
// # Overview
//
// This package limits management API traffic per owner. Requests carrying
// the gateway-injected X-User-ID header are bucketed by owner; everything
// else falls back to the client address. Two implementations share the same
// keying and response shape: an in-process token bucket for single-instance
// deployments and a Redis counter window for fleets.
//
// # In-Process Limiter
//
//	limit := middleware.NewOwnerRateLimit(middleware.DefaultRateLimitConfig(), logger, metrics)
//	router.Use(limit.Handler)
//	limit.StartCleanup(ctx) // via the embedded RateLimiter
//
// # Distributed Limiter
//
//	limit := middleware.NewDistributedOwnerRateLimit(redisClient, nil, logger, metrics)
//	router.Use(limit.Handler)
//
// The distributed limiter fails open on Redis errors so a cache outage
// never takes the management API down with it; SetFailOpen(false) inverts
// that.
//
// # Responses
//
// Rejected requests get 429 with Retry-After and X-RateLimit-* headers plus
// a JSON body {"error": "rate limit exceeded", "retry_after": n}. Allowed
// requests carry X-RateLimit-Limit/Remaining/Reset headers.
//
// # Related Packages
//
//   - pkg/httputil: response writers and the rest of the middleware chain
//   - pkg/webhooks: the owner identity header contract
package middleware
