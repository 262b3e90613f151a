// Package util provides utility functions and types for the proxy.
//
// This package contains shared utilities used across the proxy
// including context helpers and error types.
//
// # Context Helpers
//
// Context utilities for request-scoped data:
//
//	ctx = util.ContextWithCorrelationID(ctx, "corr-123")
//	correlationID := util.CorrelationIDFromContext(ctx)
//
// # Error Types
//
// Structured error types for consistent error handling:
//
//   - RouteNotFoundError, AmbiguousRouteError: route selection failures
//   - TimeoutError, UnavailableError, BadGatewayError,
//     BackendStatusError: forwarding failures
//   - Common sentinel errors: ErrNotFound, ErrGatewayTimeout, etc.
package util
