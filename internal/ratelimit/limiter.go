// Package ratelimit provides per-client request rate limiting with an
// in-memory token bucket and a redis-backed fixed window for
// multi-instance deployments.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// Reset clears the rate limit state for the given key.
	Reset(ctx context.Context, key string) error

	// Close releases limiter resources.
	Close() error
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the limit fully resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying. Zero when
	// the request was allowed.
	RetryAfter time.Duration
}

// New builds a limiter from configuration. A disabled config yields a
// limiter that admits everything.
func New(ctx context.Context, cfg config.RateLimitConfig, logger observability.Logger) (Limiter, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	if !cfg.Enabled {
		return NewNoopLimiter(), nil
	}

	switch cfg.Store {
	case "", "memory":
		return NewMemoryLimiter(cfg.RequestsPerSecond, cfg.Burst,
			WithMemoryLogger(logger)), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}

		window := cfg.Window.Duration()
		if window <= 0 {
			window = time.Second
		}
		limit := int(cfg.RequestsPerSecond * window.Seconds())
		if limit < 1 {
			limit = 1
		}

		return NewRedisLimiter(client, limit, window,
			WithRedisLogger(logger), WithOwnedClient()), nil

	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.Store)
	}
}

// NoopLimiter admits every request.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never throttles.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(context.Context, string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(context.Context, string) error {
	return nil
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}
