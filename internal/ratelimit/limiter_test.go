package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
)

func TestNoopLimiter(t *testing.T) {
	t.Parallel()

	limiter := NewNoopLimiter()

	for i := 0; i < 100; i++ {
		result, err := limiter.Allow(context.Background(), "any")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	assert.NoError(t, limiter.Reset(context.Background(), "any"))
	assert.NoError(t, limiter.Close())
}

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	limiter, err := New(context.Background(), config.RateLimitConfig{Enabled: false}, nil)
	require.NoError(t, err)

	assert.IsType(t, &NoopLimiter{}, limiter)
}

func TestNew_MemoryStore(t *testing.T) {
	t.Parallel()

	cfg := config.RateLimitConfig{
		Enabled:           true,
		Store:             "memory",
		RequestsPerSecond: 10,
		Burst:             20,
	}

	limiter, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer limiter.Close()

	assert.IsType(t, &MemoryLimiter{}, limiter)

	result, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 20, result.Limit)
}

func TestNew_EmptyStoreDefaultsToMemory(t *testing.T) {
	t.Parallel()

	cfg := config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		Burst:             20,
	}

	limiter, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer limiter.Close()

	assert.IsType(t, &MemoryLimiter{}, limiter)
}

func TestNew_RedisStore(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.RateLimitConfig{
		Enabled:           true,
		Store:             "redis",
		RequestsPerSecond: 10,
		Window:            config.Duration(time.Second),
		Redis:             config.RedisConfig{Addr: mr.Addr()},
	}

	limiter, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer limiter.Close()

	assert.IsType(t, &RedisLimiter{}, limiter)

	result, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 10, result.Limit)
}

func TestNew_RedisUnreachable(t *testing.T) {
	t.Parallel()

	cfg := config.RateLimitConfig{
		Enabled:           true,
		Store:             "redis",
		RequestsPerSecond: 10,
		Redis:             config.RedisConfig{Addr: "127.0.0.1:1"},
	}

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestNew_UnknownStore(t *testing.T) {
	t.Parallel()

	cfg := config.RateLimitConfig{
		Enabled: true,
		Store:   "memcached",
	}

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown rate limit store "memcached"`)
}
