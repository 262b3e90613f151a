package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// defaultKeyPrefix namespaces limiter keys in redis.
const defaultKeyPrefix = "ratelimit:"

// fixedWindowScript atomically counts a request within its fixed
// window. The window key carries the window start so expired windows
// fall away on their own.
// Returns: allowed (0 or 1), remaining count, reset time in ms.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local window_start = math.floor(now / window_ms) * window_ms
	local window_key = key .. ':' .. window_start

	local count = tonumber(redis.call('GET', window_key) or '0')

	local allowed = 0
	if count + 1 <= limit then
		count = redis.call('INCRBY', window_key, 1)
		if count == 1 then
			redis.call('PEXPIRE', window_key, window_ms)
		end
		allowed = 1
	end

	local reset_ms = window_start + window_ms - now

	return {allowed, limit - count, reset_ms}
`)

// RedisLimiter applies a fixed window limit shared across proxy
// instances through redis.
type RedisLimiter struct {
	client      *redis.Client
	limit       int
	window      time.Duration
	prefix      string
	logger      observability.Logger
	ownedClient bool
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(l *RedisLimiter) {
		l.logger = logger
	}
}

// WithKeyPrefix overrides the redis key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		l.prefix = prefix
	}
}

// WithOwnedClient makes Close also close the redis client.
func WithOwnedClient() RedisOption {
	return func(l *RedisLimiter) {
		l.ownedClient = true
	}
}

// NewRedisLimiter creates a fixed window limiter over an existing
// redis client allowing limit requests per window per key.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, opts ...RedisOption) *RedisLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	l := &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: defaultKeyPrefix,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := time.Now().UnixMilli()

	raw, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.limit, l.window.Milliseconds(), now,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("redis rate limit script returned unexpected value: %v", raw)
	}

	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("redis rate limit script returned unexpected type: %T", v)
		}
		nums[i] = n
	}

	allowed := nums[0] == 1
	remaining := nums[1]
	if remaining < 0 {
		remaining = 0
	}
	resetAfter := time.Duration(nums[2]) * time.Millisecond

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  int(remaining),
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter. Only the current window is cleared;
// previous windows expire on their own.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	windowMs := l.window.Milliseconds()
	windowStart := time.Now().UnixMilli() / windowMs * windowMs
	windowKey := l.prefix + key + ":" + strconv.FormatInt(windowStart, 10)

	if err := l.client.Del(ctx, windowKey).Err(); err != nil {
		return fmt.Errorf("redis rate limit reset: %w", err)
	}
	return nil
}

// Close implements Limiter.
func (l *RedisLimiter) Close() error {
	if l.ownedClient {
		return l.client.Close()
	}
	return nil
}
