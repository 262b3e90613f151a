package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

const (
	// defaultClientTTL is how long an idle client entry is kept.
	defaultClientTTL = 10 * time.Minute

	// cleanupInterval is how often stale client entries are swept.
	cleanupInterval = time.Minute
)

// clientEntry holds a per-client bucket and its last access time for
// TTL-based cleanup.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter applies a token bucket per client key, entirely
// in-process. State is lost on restart and not shared across
// instances.
type MemoryLimiter struct {
	rps       float64
	burst     int
	clients   map[string]*clientEntry
	mu        sync.Mutex
	logger    observability.Logger
	clientTTL time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger observability.Logger) MemoryOption {
	return func(l *MemoryLimiter) {
		l.logger = logger
	}
}

// WithClientTTL overrides how long idle client entries are kept.
func WithClientTTL(ttl time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		l.clientTTL = ttl
	}
}

// NewMemoryLimiter creates an in-memory per-client limiter and starts
// its background cleanup sweep. Call Close to stop it.
func NewMemoryLimiter(rps float64, burst int, opts ...MemoryOption) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}

	l := &MemoryLimiter{
		rps:       rps,
		burst:     burst,
		clients:   make(map[string]*clientEntry),
		logger:    observability.NopLogger(),
		clientTTL: defaultClientTTL,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.cleanupLoop()

	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := time.Now()

	l.mu.Lock()
	entry, ok := l.clients[key]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst),
		}
		l.clients[key] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.mu.Unlock()

	allowed := limiter.Allow()

	tokens := limiter.Tokens()
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := time.Duration((float64(l.burst) - tokens) / l.rps * float64(time.Second))
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = time.Duration(math.Ceil((1-tokens)/l.rps)) * time.Second
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.clients, key)
	l.mu.Unlock()
	return nil
}

// Close stops the cleanup sweep. Safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(l.clientTTL)
		case <-l.stopCh:
			return
		}
	}
}

// removeStale drops client entries idle for longer than maxAge.
func (l *MemoryLimiter) removeStale(maxAge time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(l.clients, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("cleaned up idle rate limit clients",
			observability.Int("removed", removed),
			observability.Int("remaining", len(l.clients)))
	}
}
