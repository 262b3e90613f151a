// Package gateway implements the proxy request path: local endpoints,
// route matching, dynamic backend resolution, and forwarding, glued
// into a single catch-all gin handler.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/forward"
	"github.com/os-climate/osc-dm-proxy-srv/internal/gateway/middleware"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/routing"
	"github.com/os-climate/osc-dm-proxy-srv/internal/stats"
	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// Local endpoints answered by the proxy itself, matched by prefix
// before any route is consulted. Paths under the local prefix that
// match none of them fall through to normal routing.
const (
	localPrefix        = "api/proxy"
	healthEndpoint     = "api/proxy/health"
	metricsEndpoint    = "api/proxy/metrics"
	statisticsEndpoint = "api/proxy/statistics"
)

// Resolver resolves the backend base URL for a dynamic route from the
// request path.
type Resolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// Gateway routes and relays requests. It holds every collaborator the
// handler needs; nothing is reached through package globals.
type Gateway struct {
	table     *routing.Table
	resolver  Resolver
	forwarder forward.Doer
	stats     *stats.Collector
	metrics   *observability.Metrics
	logger    observability.Logger
}

// Option is a functional option for the gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithResolver sets the dynamic target resolver. Without one, dynamic
// routes fail resolution.
func WithResolver(resolver Resolver) Option {
	return func(g *Gateway) {
		g.resolver = resolver
	}
}

// WithStats sets the statistics collector.
func WithStats(collector *stats.Collector) Option {
	return func(g *Gateway) {
		g.stats = collector
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// New creates a gateway over the given route table and forwarder.
func New(table *routing.Table, forwarder forward.Doer, opts ...Option) *Gateway {
	g := &Gateway{
		table:     table,
		forwarder: forwarder,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Handler is the catch-all request handler registered for every
// method and path.
func (g *Gateway) Handler(c *gin.Context) {
	// gin's wildcard parameter keeps its leading slash.
	path := strings.TrimPrefix(c.Param("path"), "/")

	if g.handleLocal(c, path) {
		return
	}

	if g.stats != nil {
		g.stats.Process("/" + path)
	}

	route, err := g.table.Match(path)
	if err != nil {
		g.recordRouteError(err)
		g.writeError(c, path, "", err)
		return
	}

	c.Set(middleware.RouteKey, route.Source)
	g.recordRouteMatch(route)

	base := route.Target.URL
	if route.Target.Kind == routing.TargetDynamic {
		base, err = g.resolveDynamic(c.Request.Context(), path)
		if err != nil {
			g.writeError(c, path, "", err)
			return
		}
	}

	targetURL := forward.BuildTargetURL(base, path, c.Request.URL.RawQuery)

	result, err := g.forwarder.Forward(c.Request.Context(), c.Request, targetURL)
	if err != nil {
		g.recordForwardError(err)
		g.writeError(c, path, targetURL, err)
		return
	}

	relay(c, result)
}

// handleLocal answers endpoints served by the proxy itself. It
// reports whether the request was handled.
func (g *Gateway) handleLocal(c *gin.Context, path string) bool {
	if !strings.HasPrefix(path, localPrefix) {
		return false
	}

	switch {
	case strings.HasPrefix(path, healthEndpoint):
		c.JSON(http.StatusOK, gin.H{"health": "OK"})

	case strings.HasPrefix(path, statisticsEndpoint):
		c.JSON(http.StatusOK, g.snapshot())

	case strings.HasPrefix(path, metricsEndpoint):
		// Prometheus metrics are served on the admin listener; this
		// endpoint keeps the reference response shape.
		c.JSON(http.StatusOK, gin.H{"metrics": "some-metrics"})

	default:
		return false
	}

	c.Set(middleware.RouteKey, observability.LocalRoute)
	return true
}

func (g *Gateway) snapshot() stats.Snapshot {
	if g.stats == nil {
		return stats.Snapshot{
			Statistics: map[string]int64{},
			Details:    []stats.RequestRecord{},
			Errors:     []stats.ErrorRecord{},
		}
	}
	return g.stats.Report()
}

// resolveDynamic looks up the backend address for a dynamic route.
func (g *Gateway) resolveDynamic(ctx context.Context, path string) (string, error) {
	if g.resolver == nil {
		g.recordResolution(observability.ResolutionError)
		return "", util.NewProductNotFoundError(path, "")
	}

	base, err := g.resolver.Resolve(ctx, path)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			g.recordResolution(observability.ResolutionNotFound)
		} else {
			g.recordResolution(observability.ResolutionError)
		}
		return "", err
	}

	g.recordResolution(observability.ResolutionOK)
	return base, nil
}

// relay writes the backend response through unchanged, headers
// included.
func relay(c *gin.Context, result *forward.Result) {
	header := c.Writer.Header()
	for key, values := range result.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}

	c.Status(result.StatusCode)
	if len(result.Body) > 0 {
		_, _ = c.Writer.Write(result.Body)
	}
}

// writeError maps a gateway error onto its HTTP status, logs it, and
// records it in the statistics error log.
func (g *Gateway) writeError(c *gin.Context, path, target string, err error) {
	status := statusForError(err)

	if g.stats != nil {
		g.stats.Error("/"+path, err.Error())
	}

	fields := []observability.Field{
		observability.String("path", path),
		observability.Int("status", status),
		observability.Error(err),
	}
	if target != "" {
		fields = append(fields, observability.String("target", target))
	}

	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", fields...)
	} else {
		g.logger.Warn("request failed", fields...)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": err.Error(),
	})
}

// statusForError maps the error taxonomy onto HTTP status codes. A
// backend that answered keeps its own status.
func statusForError(err error) int {
	var statusErr *util.BackendStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode()
	}

	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrAmbiguousRoute):
		return http.StatusInternalServerError
	case errors.Is(err, util.ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, util.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrBadGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) recordRouteMatch(route *routing.Route) {
	if g.metrics == nil {
		return
	}

	switch {
	case route.IsCatchAll():
		g.metrics.RecordRouteMatch(observability.RouteOutcomeCatchAll)
	case route.Target.Kind == routing.TargetDynamic:
		g.metrics.RecordRouteMatch(observability.RouteOutcomeDynamic)
	default:
		g.metrics.RecordRouteMatch(observability.RouteOutcomeStatic)
	}
}

func (g *Gateway) recordRouteError(err error) {
	if g.metrics == nil {
		return
	}

	if errors.Is(err, util.ErrAmbiguousRoute) {
		g.metrics.RecordRouteMatch(observability.RouteOutcomeAmbiguous)
		return
	}
	g.metrics.RecordRouteMatch(observability.RouteOutcomeNotFound)
}

func (g *Gateway) recordResolution(result string) {
	if g.metrics != nil {
		g.metrics.RecordResolution(result)
	}
}

func (g *Gateway) recordForwardError(err error) {
	if g.metrics == nil {
		return
	}

	var statusErr *util.BackendStatusError
	switch {
	case errors.As(err, &statusErr):
		g.metrics.RecordForwardError(observability.ForwardErrorBackendStatus)
	case errors.Is(err, util.ErrGatewayTimeout):
		g.metrics.RecordForwardError(observability.ForwardErrorTimeout)
	case errors.Is(err, util.ErrCircuitOpen), errors.Is(err, util.ErrUnavailable):
		g.metrics.RecordForwardError(observability.ForwardErrorUnavailable)
	case errors.Is(err, util.ErrBadGateway):
		g.metrics.RecordForwardError(observability.ForwardErrorBadGateway)
	default:
		g.metrics.RecordForwardError(observability.ForwardErrorInternal)
	}
}
