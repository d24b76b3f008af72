// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error
// responses, parameter parsing, and the middleware chain the management API
// runs behind.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, subscription)
//	httputil.WriteCreated(w, subscription)
//	httputil.WriteNoContent(w)
//
// Error responses (all encode ErrorResponse):
//
//	httputil.WriteBadRequest(w, "invalid event type")
//	httputil.WriteUnauthorized(w, "missing X-User-ID header")
//	httputil.WriteNotFoundError(w, "webhook subscription not found")
//	httputil.WriteTooManyRequests(w, "rate limit exceeded")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req webhooks.RegisterRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path and query parameters:
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 100)
//	activeOnly, err := httputil.ParseQueryBool(r, "active_only", false)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: per-owner API rate limiting
//   - pkg/observability: the structured logger the middleware logs through
package httputil
