// Package main is the entry point for the data mesh proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
	"github.com/os-climate/osc-dm-proxy-srv/internal/forward"
	"github.com/os-climate/osc-dm-proxy-srv/internal/gateway"
	"github.com/os-climate/osc-dm-proxy-srv/internal/gateway/middleware"
	"github.com/os-climate/osc-dm-proxy-srv/internal/health"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/ratelimit"
	"github.com/os-climate/osc-dm-proxy-srv/internal/registry"
	"github.com/os-climate/osc-dm-proxy-srv/internal/resolve"
	"github.com/os-climate/osc-dm-proxy-srv/internal/routing"
	"github.com/os-climate/osc-dm-proxy-srv/internal/stats"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	host        string
	port        int
	configPath  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg := loadConfig(flags)

	logger := initLogger(cfg)
	defer func() { _ = logger.Sync() }()

	validateConfig(cfg, flags.configPath, logger)

	app := initApplication(cfg, logger)
	runProxy(app, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	host := flag.String("host", getEnvOrDefault("PROXY_HOST", ""),
		"Listen host (overrides configuration)")
	port := flag.Int("port", getEnvIntOrDefault("PROXY_PORT", 0),
		"Listen port (overrides configuration)")
	configPath := flag.String("config", getEnvOrDefault("PROXY_CONFIG_PATH", "config/config.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		host:        *host,
		port:        *port,
		configPath:  *configPath,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("osc-dm-proxy-srv version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// loadConfig locates and loads the configuration file. Errors go to
// stderr because the logger is itself configured by the file being
// loaded.
func loadConfig(flags cliFlags) *config.Config {
	path, err := config.ResolveConfigPath(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate configuration: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if flags.host != "" {
		cfg.Server.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}

	return cfg
}

// initLogger initializes the logger from the loaded configuration.
func initLogger(cfg *config.Config) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// validateConfig validates the configuration and logs the startup
// summary.
func validateConfig(cfg *config.Config, configPath string, logger observability.Logger) {
	logger.Info("starting osc-dm-proxy-srv",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("configuration warning", observability.String("warning", w))
	}
	if err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("service", cfg.Service.Name),
		observability.String("listen", cfg.Server.Addr()),
		observability.Int("routes", len(cfg.Routes)),
		observability.String("registrar", cfg.Registrar.BaseURL()),
	)
}

// application holds all application components.
type application struct {
	server        *gateway.Server
	registry      *registry.Registry
	limiter       ratelimit.Limiter
	healthChecker *health.Checker
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	adminServer   *http.Server
	config        *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	metrics := observability.NewMetrics(cfg.Observability.Metrics.Namespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer := initTracer(cfg, logger)
	healthChecker := health.NewChecker(version)

	table, err := routing.New(cfg.Routes, logger)
	if err != nil {
		logger.Fatal("failed to build route table", observability.Error(err))
	}

	reg := connectRegistry(cfg, logger)

	limiter, err := ratelimit.New(context.Background(), cfg.RateLimit, logger)
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", observability.Error(err))
	}

	directory := resolve.NewRegistrarClient(cfg.Registrar.BaseURL(),
		resolve.WithRegistrarLogger(logger))
	resolver := resolve.NewResolver(directory, resolve.WithResolverLogger(logger))

	gw := gateway.New(table, buildForwarder(cfg, logger, metrics),
		gateway.WithLogger(logger),
		gateway.WithResolver(resolver),
		gateway.WithStats(stats.NewCollector()),
		gateway.WithMetrics(metrics),
	)

	server := gateway.NewServer(cfg.Server, gw.Handler, logger)
	server.Use(buildMiddlewareChain(cfg, logger, metrics, limiter)...)

	registerHealthChecks(healthChecker, cfg, reg)

	return &application{
		server:        server,
		registry:      reg,
		limiter:       limiter,
		healthChecker: healthChecker,
		metrics:       metrics,
		tracer:        tracer,
		config:        cfg,
	}
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Service.Name,
		Enabled:      cfg.Observability.Tracing.Enabled,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}

	return tracer
}

// connectRegistry connects to the registry and announces this proxy
// when announcement is enabled.
func connectRegistry(cfg *config.Config, logger observability.Logger) *registry.Registry {
	if !cfg.Registry.Enabled {
		return nil
	}

	reg, err := registry.Connect(context.Background(), cfg.Registry, logger)
	if err != nil {
		logger.Fatal("failed to connect to registry", observability.Error(err))
	}

	if cfg.Registry.Announce {
		if err := reg.Announce(context.Background(), cfg.Service.Name, cfg.Service.Address); err != nil {
			logger.Error("failed to announce proxy", observability.Error(err))
		}
	}

	return reg
}

// buildForwarder builds the backend forwarder, wrapped in a circuit
// breaker when one is configured.
func buildForwarder(cfg *config.Config, logger observability.Logger, metrics *observability.Metrics) forward.Doer {
	var doer forward.Doer = forward.NewForwarder(
		forward.WithLogger(logger),
		forward.WithTimeout(cfg.Forward.Timeout.Duration()),
	)

	if cfg.CircuitBreaker.Enabled {
		doer = forward.NewBreakerForwarder(doer, cfg.CircuitBreaker,
			forward.WithBreakerLogger(logger),
			forward.WithBreakerStateFunc(metrics.SetCircuitBreakerState),
		)
	}

	return doer
}

// buildMiddlewareChain builds the middleware chain in execution order.
func buildMiddlewareChain(
	cfg *config.Config,
	logger observability.Logger,
	metrics *observability.Metrics,
	limiter ratelimit.Limiter,
) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		middleware.Recovery(logger),
		middleware.Identity(),
		middleware.Logging(logger),
	}

	if cfg.Observability.Tracing.Enabled {
		chain = append(chain, middleware.Tracing(cfg.Service.Name))
	}

	chain = append(chain, middleware.Metrics(metrics))

	if cfg.Observability.WireTrace {
		chain = append(chain, middleware.WireTrace(logger))
	}

	if cfg.CORS.Enabled {
		chain = append(chain, middleware.CORS(cfg.CORS))
	}

	if cfg.RateLimit.Enabled {
		chain = append(chain, middleware.RateLimitWithConfig(middleware.RateLimitConfig{
			Limiter: limiter,
			Logger:  logger,
			Metrics: metrics,
		}))
	}

	return chain
}

// registerHealthChecks registers readiness checks for the proxy's
// upstream dependencies.
func registerHealthChecks(checker *health.Checker, cfg *config.Config, reg *registry.Registry) {
	checker.RegisterCheck("registrar",
		health.HTTPCheck(cfg.Registrar.BaseURL()+"/api/registrar/health", 5*time.Second))

	if reg != nil {
		checker.RegisterCheck("registry", health.PingCheck(reg))
	}
}

// runProxy runs the proxy and handles shutdown.
func runProxy(app *application, logger observability.Logger) {
	go func() {
		if err := app.server.Start(context.Background()); err != nil {
			logger.Fatal("proxy server error", observability.Error(err))
		}
	}()

	startAdminServerIfEnabled(app, logger)
	waitForShutdown(app, logger)
}

// startAdminServerIfEnabled starts the metrics and health server if
// enabled.
func startAdminServerIfEnabled(app *application, logger observability.Logger) {
	if !app.config.Observability.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	mux.HandleFunc("/health", app.healthChecker.HealthHandler())
	mux.HandleFunc("/ready", app.healthChecker.ReadinessHandler())
	mux.HandleFunc("/live", app.healthChecker.LivenessHandler())

	addr := fmt.Sprintf(":%d", app.config.Observability.Metrics.Port)
	app.adminServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	logger.Info("starting admin server", observability.String("address", addr))

	go func() {
		if err := app.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", observability.Error(err))
		}
	}()
}

// waitForShutdown waits for a shutdown signal and performs graceful
// shutdown.
func waitForShutdown(app *application, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if app.registry != nil {
		if app.config.Registry.Announce {
			if err := app.registry.Withdraw(shutdownCtx, app.config.Service.Name); err != nil {
				logger.Error("failed to withdraw proxy", observability.Error(err))
			}
		}
		if err := app.registry.Close(); err != nil {
			logger.Error("failed to close registry connection", observability.Error(err))
		}
	}

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop proxy server gracefully", observability.Error(err))
	}

	if app.adminServer != nil {
		if err := app.adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop admin server gracefully", observability.Error(err))
		}
	}

	if err := app.limiter.Close(); err != nil {
		logger.Error("failed to close rate limiter", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("proxy stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable parsed as an
// integer, or a default.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
