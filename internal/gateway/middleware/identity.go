// Package middleware provides the gin middleware chain for the proxy
// gateway: identity propagation, request logging, panic recovery,
// CORS, rate limiting, metrics, tracing, and wire-level traffic
// tracing.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

const (
	// CorrelationHeader carries the correlation ID across service hops.
	CorrelationHeader = "X-Correlation-ID"
	// UserHeader carries the authenticated user identity.
	UserHeader = "X-User"

	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlationID"
	// UserKey is the gin context key for the user identity.
	UserKey = "user"
)

// Identity returns a middleware that propagates the caller identity
// headers. A missing correlation ID is minted so every request can be
// traced across hops; both values are mirrored into the request
// context for downstream resolution and logging.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		user := c.GetHeader(UserHeader)

		c.Set(CorrelationIDKey, correlationID)
		c.Header(CorrelationHeader, correlationID)

		ctx := util.ContextWithCorrelationID(c.Request.Context(), correlationID)
		if user != "" {
			c.Set(UserKey, user)
			ctx = util.ContextWithUser(ctx, user)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetCorrelationID returns the correlation ID from the gin context.
func GetCorrelationID(c *gin.Context) string {
	if id, exists := c.Get(CorrelationIDKey); exists {
		if correlationID, ok := id.(string); ok {
			return correlationID
		}
	}
	return ""
}

// GetUser returns the user identity from the gin context, or the
// empty string when the caller did not identify itself.
func GetUser(c *gin.Context) string {
	if u, exists := c.Get(UserKey); exists {
		if user, ok := u.(string); ok {
			return user
		}
	}
	return ""
}
