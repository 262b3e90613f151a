package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// RouteKey is the gin context key under which the gateway records the
// matched route pattern. It keeps the metrics route label bounded by
// the route table instead of the raw request path.
const RouteKey = "matchedRoute"

// GetRoute returns the matched route pattern from the gin context.
func GetRoute(c *gin.Context) string {
	if r, exists := c.Get(RouteKey); exists {
		if route, ok := r.(string); ok {
			return route
		}
	}
	return observability.UnmatchedRoute
}

// Metrics returns a middleware that records request metrics: totals,
// latency, sizes, and in-flight gauge.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		method := c.Request.Method
		start := time.Now()

		m.IncrementActiveRequests(method)
		defer m.DecrementActiveRequests(method)

		c.Next()

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		m.RecordRequest(
			method, GetRoute(c),
			c.Writer.Status(),
			time.Since(start),
			reqSize, respSize,
		)
	}
}
