package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisLimiter creates a miniredis-backed limiter.
func setupRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLimiter(client, limit, window), mr
}

func TestRedisLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	limiter, _ := setupRedisLimiter(t, 3, time.Second)

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3, result.Limit)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Zero(t, result.Remaining)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, time.Second)
}

func TestRedisLimiter_WindowRollover(t *testing.T) {
	t.Parallel()

	limiter, _ := setupRedisLimiter(t, 2, 100*time.Millisecond)

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	denied, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	time.Sleep(150 * time.Millisecond)

	fresh, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestRedisLimiter_PerKeyIsolation(t *testing.T) {
	t.Parallel()

	limiter, _ := setupRedisLimiter(t, 1, time.Second)

	first, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	exhausted, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, exhausted.Allowed)

	other, err := limiter.Allow(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestRedisLimiter_Reset(t *testing.T) {
	t.Parallel()

	limiter, _ := setupRedisLimiter(t, 1, time.Minute)

	_, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	denied, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	require.NoError(t, limiter.Reset(context.Background(), "10.0.0.1"))

	fresh, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestRedisLimiter_ServerDown(t *testing.T) {
	t.Parallel()

	limiter, mr := setupRedisLimiter(t, 3, time.Second)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis rate limit check")
}

func TestRedisLimiter_CloseOwnership(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	shared := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = shared.Close() })

	borrowed := NewRedisLimiter(shared, 3, time.Second)
	require.NoError(t, borrowed.Close())

	// The shared client stays usable after a non-owning limiter closes.
	_, err = borrowed.Allow(context.Background(), "10.0.0.1")
	assert.NoError(t, err)

	owned := NewRedisLimiter(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		3, time.Second, WithOwnedClient(),
	)
	require.NoError(t, owned.Close())

	_, err = owned.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}
