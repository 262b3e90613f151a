package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// DynamicTarget is the route target sentinel that selects dynamic
// resolution through the registrar instead of a static backend URL.
const DynamicTarget = "dataproduct_resolver"

// CatchAllSource is the route source pattern that matches any path.
// Only this exact pattern is treated as the catch-all route.
const CatchAllSource = "/.*"

// Config is the top-level proxy configuration.
type Config struct {
	Service        ServiceConfig        `yaml:"service"`
	Server         ServerConfig         `yaml:"server"`
	Routes         []RouteConfig        `yaml:"routes"`
	Registrar      RegistrarConfig      `yaml:"registrar"`
	Registry       RegistryConfig       `yaml:"registry"`
	Forward        ForwardConfig        `yaml:"forward"`
	CORS           CORSConfig           `yaml:"cors"`
	Observability  ObservabilityConfig  `yaml:"observability"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// ServiceConfig identifies this proxy instance.
type ServiceConfig struct {
	Name string `yaml:"name"`

	// Address is the externally reachable base URL announced to the
	// registry, e.g. "http://osc-dm-proxy-srv:8000".
	Address string `yaml:"address"`
}

// ServerConfig configures the proxy HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RouteConfig is a single route table entry. Source is a regular
// expression matched against the request path; Target is either a
// backend base URL or the DynamicTarget sentinel.
type RouteConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// Dynamic reports whether the route resolves its backend through the
// registrar.
func (r RouteConfig) Dynamic() bool {
	return r.Target == DynamicTarget
}

// CatchAll reports whether the route is the catch-all entry.
func (r RouteConfig) CatchAll() bool {
	return r.Source == CatchAllSource
}

// RegistrarConfig locates the registrar (directory) service.
type RegistrarConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BaseURL returns the registrar base URL.
func (r RegistrarConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", r.Host, r.Port)
}

// RegistryConfig configures the etcd-backed key-value registry.
type RegistryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DialTimeout     Duration `yaml:"dialTimeout"`
	ConnectAttempts int      `yaml:"connectAttempts"`
	ConnectBackoff  Duration `yaml:"connectBackoff"`

	// Announce publishes this proxy's presence record on startup.
	Announce bool `yaml:"announce"`
}

// Endpoint returns the etcd endpoint in host:port form.
func (r RegistryConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ForwardConfig configures backend forwarding.
type ForwardConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           Duration `yaml:"maxAge"`
}

// ObservabilityConfig groups logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	// WireTrace enables sequence-numbered request/response body
	// logging at debug level.
	WireTrace bool `yaml:"wireTrace"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus admin server.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RateLimitConfig configures per-client request rate limiting.
type RateLimitConfig struct {
	Enabled           bool        `yaml:"enabled"`
	RequestsPerSecond float64     `yaml:"requestsPerSecond"`
	Burst             int         `yaml:"burst"`
	Store             string      `yaml:"store"`
	Window            Duration    `yaml:"window"`
	Redis             RedisConfig `yaml:"redis"`
}

// RedisConfig locates the redis instance backing the distributed
// rate-limit store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CircuitBreakerConfig configures the forwarding circuit breaker.
type CircuitBreakerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	MaxRequests  uint32   `yaml:"maxRequests"`
	Interval     Duration `yaml:"interval"`
	Timeout      Duration `yaml:"timeout"`
	MinRequests  uint32   `yaml:"minRequests"`
	FailureRatio float64  `yaml:"failureRatio"`
}

// DefaultConfig returns a configuration with default values. Routes
// are not defaulted; they must come from the configuration file.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "osc-dm-proxy",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Registry: RegistryConfig{
			Enabled:         false,
			Port:            2379,
			DialTimeout:     Duration(5 * time.Second),
			ConnectAttempts: 3,
			ConnectBackoff:  Duration(5 * time.Second),
		},
		Forward: ForwardConfig{
			Timeout: Duration(5 * time.Second),
		},
		CORS: CORSConfig{
			Enabled:          true,
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"*"},
			AllowCredentials: true,
			MaxAge:           Duration(12 * time.Hour),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Port:      9090,
				Namespace: "proxy",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				OTLPEndpoint: "localhost:4317",
				SamplingRate: 1.0,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			Burst:             200,
			Store:             "memory",
			Window:            Duration(time.Second),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:      false,
			MaxRequests:  1,
			Interval:     Duration(60 * time.Second),
			Timeout:      Duration(30 * time.Second),
			MinRequests:  3,
			FailureRatio: 0.6,
		},
	}
}

// ApplyDefaults fills zero-valued fields with defaults so that partial
// configuration files remain usable.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Service.Name == "" {
		c.Service.Name = defaults.Service.Name
	}
	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaults.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Registry.Port == 0 {
		c.Registry.Port = defaults.Registry.Port
	}
	if c.Registry.DialTimeout == 0 {
		c.Registry.DialTimeout = defaults.Registry.DialTimeout
	}
	if c.Registry.ConnectAttempts == 0 {
		c.Registry.ConnectAttempts = defaults.Registry.ConnectAttempts
	}
	if c.Registry.ConnectBackoff == 0 {
		c.Registry.ConnectBackoff = defaults.Registry.ConnectBackoff
	}
	if c.Forward.Timeout == 0 {
		c.Forward.Timeout = defaults.Forward.Timeout
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = defaults.CORS.AllowOrigins
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = defaults.CORS.AllowMethods
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = defaults.CORS.AllowHeaders
	}
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = defaults.CORS.MaxAge
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = defaults.Observability.Logging.Format
	}
	if c.Observability.Logging.Output == "" {
		c.Observability.Logging.Output = defaults.Observability.Logging.Output
	}
	if c.Observability.Metrics.Port == 0 {
		c.Observability.Metrics.Port = defaults.Observability.Metrics.Port
	}
	if c.Observability.Metrics.Namespace == "" {
		c.Observability.Metrics.Namespace = defaults.Observability.Metrics.Namespace
	}
	if c.Observability.Tracing.OTLPEndpoint == "" {
		c.Observability.Tracing.OTLPEndpoint = defaults.Observability.Tracing.OTLPEndpoint
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = defaults.Observability.Tracing.SamplingRate
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = defaults.RateLimit.RequestsPerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = defaults.RateLimit.Store
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = defaults.RateLimit.Window
	}
	if c.CircuitBreaker.MaxRequests == 0 {
		c.CircuitBreaker.MaxRequests = defaults.CircuitBreaker.MaxRequests
	}
	if c.CircuitBreaker.Interval == 0 {
		c.CircuitBreaker.Interval = defaults.CircuitBreaker.Interval
	}
	if c.CircuitBreaker.Timeout == 0 {
		c.CircuitBreaker.Timeout = defaults.CircuitBreaker.Timeout
	}
	if c.CircuitBreaker.MinRequests == 0 {
		c.CircuitBreaker.MinRequests = defaults.CircuitBreaker.MinRequests
	}
	if c.CircuitBreaker.FailureRatio == 0 {
		c.CircuitBreaker.FailureRatio = defaults.CircuitBreaker.FailureRatio
	}
}

// Validate checks the configuration for errors. It returns warnings
// for conditions that are tolerated at runtime but worth surfacing,
// such as multiple catch-all routes (the last one wins).
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if err := util.ValidateNonEmpty(c.Service.Name, "service.name"); err != nil {
		return nil, util.NewConfigErrorWithCause("service.name", "invalid service name", err)
	}

	if err := util.ValidatePort(c.Server.Port); err != nil {
		return nil, util.NewConfigErrorWithCause("server.port", "invalid port", err)
	}

	if len(c.Routes) == 0 {
		return nil, util.NewConfigError("routes", "at least one route is required")
	}

	seenSources := make(map[string]int)
	catchAlls := 0
	hasDynamic := false

	for i, route := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)

		if route.Source == "" {
			return nil, util.NewConfigError(field+".source", "source pattern is required")
		}
		if _, err := regexp.Compile(route.Source); err != nil {
			return nil, util.NewConfigErrorWithCause(field+".source", "invalid pattern", err)
		}
		if route.Target == "" {
			return nil, util.NewConfigError(field+".target", "target is required")
		}

		if route.Dynamic() {
			hasDynamic = true
		} else if err := util.ValidateURL(route.Target); err != nil {
			return nil, util.NewConfigErrorWithCause(field+".target", "invalid target URL", err)
		}

		if route.CatchAll() {
			catchAlls++
			continue
		}

		if prev, dup := seenSources[route.Source]; dup {
			return nil, util.NewConfigError(field+".source",
				fmt.Sprintf("duplicate source pattern %q (also at routes[%d])", route.Source, prev))
		}
		seenSources[route.Source] = i
	}

	if catchAlls > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"%d catch-all routes configured; the last one wins", catchAlls))
	}

	if hasDynamic {
		if err := util.ValidateNonEmpty(c.Registrar.Host, "registrar.host"); err != nil {
			return nil, util.NewConfigError("registrar.host",
				"registrar host is required when a route uses "+DynamicTarget)
		}
		if err := util.ValidatePort(c.Registrar.Port); err != nil {
			return nil, util.NewConfigErrorWithCause("registrar.port", "invalid port", err)
		}
	}

	if err := util.ValidatePositiveDuration(c.Forward.Timeout.Duration()); err != nil {
		return nil, util.NewConfigErrorWithCause("forward.timeout", "invalid timeout", err)
	}

	if c.Registry.Enabled {
		if err := util.ValidateNonEmpty(c.Registry.Host, "registry.host"); err != nil {
			return nil, util.NewConfigError("registry.host", "registry host is required")
		}
		if err := util.ValidatePort(c.Registry.Port); err != nil {
			return nil, util.NewConfigErrorWithCause("registry.port", "invalid port", err)
		}
		if c.Registry.ConnectAttempts < 1 {
			return nil, util.NewConfigError("registry.connectAttempts", "must be at least 1")
		}
		if err := util.ValidatePositiveDuration(c.Registry.ConnectBackoff.Duration()); err != nil {
			return nil, util.NewConfigErrorWithCause("registry.connectBackoff", "invalid backoff", err)
		}
	}

	if c.Observability.Metrics.Enabled {
		if err := util.ValidatePort(c.Observability.Metrics.Port); err != nil {
			return nil, util.NewConfigErrorWithCause("observability.metrics.port", "invalid port", err)
		}
		if c.Observability.Metrics.Port == c.Server.Port {
			return nil, util.NewConfigError("observability.metrics.port",
				"metrics port must differ from server port")
		}
	}

	if c.CORS.Enabled && len(c.CORS.AllowOrigins) == 0 {
		return nil, util.NewConfigError("cors.allowOrigins", "at least one origin is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return nil, util.NewConfigError("rateLimit.requestsPerSecond", "must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return nil, util.NewConfigError("rateLimit.burst", "must be at least 1")
		}
		switch c.RateLimit.Store {
		case "memory":
		case "redis":
			if c.RateLimit.Redis.Addr == "" {
				return nil, util.NewConfigError("rateLimit.redis.addr",
					"redis address is required for the redis store")
			}
		default:
			return nil, util.NewConfigError("rateLimit.store",
				fmt.Sprintf("unknown store %q (memory or redis)", c.RateLimit.Store))
		}
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureRatio <= 0 || c.CircuitBreaker.FailureRatio > 1 {
			return nil, util.NewConfigError("circuitBreaker.failureRatio",
				"must be in (0, 1]")
		}
		if err := util.ValidatePositiveDuration(c.CircuitBreaker.Timeout.Duration()); err != nil {
			return nil, util.NewConfigErrorWithCause("circuitBreaker.timeout", "invalid timeout", err)
		}
	}

	return warnings, nil
}
