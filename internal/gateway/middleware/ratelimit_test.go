package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/ratelimit"
)

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (*ratelimit.Result, error) {
	return nil, errors.New("store down")
}

func (erroringLimiter) Reset(context.Context, string) error { return nil }

func (erroringLimiter) Close() error { return nil }

func rateLimitedRouter(t *testing.T, cfg RateLimitConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimitWithConfig(cfg))
	router.GET("/products", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return router
}

func TestRateLimit_DeniesOverBurst(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer limiter.Close()

	router := rateLimitedRouter(t, RateLimitConfig{Limiter: limiter})

	req := httptest.NewRequest(http.MethodGet, "/products", nil)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := httptest.NewRecorder()
	router.ServeHTTP(second, req)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "Rate limit exceeded")
}

func TestRateLimit_RecordsMetricOnDenial(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer limiter.Close()

	metrics := observability.NewMetrics("test_mw_ratelimit")
	router := rateLimitedRouter(t, RateLimitConfig{
		Limiter: limiter,
		Metrics: metrics,
	})

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)

	var hits float64
	for _, family := range families {
		if family.GetName() == "test_mw_ratelimit_rate_limit_hits_total" {
			for _, metric := range family.GetMetric() {
				hits += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, hits)
}

func TestRateLimit_FailsOpenOnStoreError(t *testing.T) {
	router := rateLimitedRouter(t, RateLimitConfig{
		Limiter: erroringLimiter{},
		Logger:  observability.NopLogger(),
	})

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_SkipPaths(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer limiter.Close()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitWithConfig(RateLimitConfig{
		Limiter:   limiter,
		SkipPaths: []string{"/health"},
	}))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// Well past the burst; the skipped path is never limited.
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_NilLimiterAllowsAll(t *testing.T) {
	router := rateLimitedRouter(t, RateLimitConfig{})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
