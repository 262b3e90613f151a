package forward

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// Doer forwards a request to a resolved backend target. It is the
// interface the gateway depends on, satisfied by both Forwarder and
// BreakerForwarder.
type Doer interface {
	Forward(ctx context.Context, req *http.Request, targetURL string) (*Result, error)
}

// Gauge values reported for breaker state transitions.
const (
	BreakerStateClosed   = 0
	BreakerStateHalfOpen = 1
	BreakerStateOpen     = 2
)

// BreakerForwarder wraps a forwarder with one circuit breaker per
// backend host. Only infrastructure failures count against a breaker;
// a backend that answered, even with an error status, is reachable
// and must not trip it.
type BreakerForwarder struct {
	next    Doer
	cfg     config.CircuitBreakerConfig
	logger  observability.Logger
	onState func(name string, state int)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// BreakerOption is a functional option for the breaker forwarder.
type BreakerOption func(*BreakerForwarder)

// WithBreakerLogger sets the logger for breaker state transitions.
func WithBreakerLogger(logger observability.Logger) BreakerOption {
	return func(b *BreakerForwarder) {
		b.logger = logger
	}
}

// WithBreakerStateFunc registers a callback invoked on every state
// transition, typically to update a metrics gauge.
func WithBreakerStateFunc(fn func(name string, state int)) BreakerOption {
	return func(b *BreakerForwarder) {
		b.onState = fn
	}
}

// NewBreakerForwarder wraps next with per-host circuit breaking
// configured by cfg.
func NewBreakerForwarder(next Doer, cfg config.CircuitBreakerConfig, opts ...BreakerOption) *BreakerForwarder {
	b := &BreakerForwarder{
		next:     next,
		cfg:      cfg,
		logger:   observability.NopLogger(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Forward runs the wrapped forwarder under the breaker for the target
// host. When the breaker is open the backend is not contacted and a
// circuit open error is returned instead.
func (b *BreakerForwarder) Forward(ctx context.Context, req *http.Request, targetURL string) (*Result, error) {
	name := breakerName(targetURL)
	cb := b.breaker(name)

	out, err := cb.Execute(func() (interface{}, error) {
		return b.next.Forward(ctx, req, targetURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, util.NewCircuitOpenError(name, cb.State().String())
		}
		return nil, err
	}

	return out.(*Result), nil
}

func (b *BreakerForwarder) breaker(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval.Duration(),
		Timeout:     b.cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= b.cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("circuit breaker state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
			if b.onState != nil {
				b.onState(name, stateValue(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// The backend produced a response; the wire is healthy.
			var statusErr *util.BackendStatusError
			return errors.As(err, &statusErr)
		},
	})
	b.breakers[name] = cb

	return cb
}

// breakerName keys breakers by backend host so one unhealthy backend
// cannot trip requests bound for another.
func breakerName(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return targetURL
	}
	return u.Host
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return BreakerStateOpen
	case gobreaker.StateHalfOpen:
		return BreakerStateHalfOpen
	default:
		return BreakerStateClosed
	}
}
