package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/ratelimit"
)

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(c *gin.Context) string

// IPKeyFunc keys rate limits by client IP.
func IPKeyFunc(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Limiter is the rate limiter to apply.
	Limiter ratelimit.Limiter

	// KeyFunc extracts the rate limit key. Defaults to client IP.
	KeyFunc KeyFunc

	// Logger for rate limit events.
	Logger observability.Logger

	// Metrics records denied requests when set.
	Metrics *observability.Metrics

	// SkipPaths lists paths exempt from rate limiting.
	SkipPaths []string
}

// RateLimit returns a middleware that applies per-client rate
// limiting.
func RateLimit(limiter ratelimit.Limiter, logger observability.Logger) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Limiter: limiter,
		Logger:  logger,
	})
}

// RateLimitWithConfig returns a rate limit middleware with custom
// configuration. Limiter store failures fail open so a degraded redis
// cannot take the proxy down with it.
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.KeyFunc == nil {
		config.KeyFunc = IPKeyFunc
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := config.KeyFunc(c)

		result, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			config.Logger.Error("rate limit check failed",
				observability.String("key", key),
				observability.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			config.Logger.Debug("rate limit exceeded",
				observability.String("key", key),
				observability.Int("limit", result.Limit))

			if config.Metrics != nil {
				config.Metrics.RecordRateLimitHit(c.FullPath())
			}

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"message":     "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
