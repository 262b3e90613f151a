package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// ginModeOnce ensures gin.SetMode is called once even when several
// servers are built in one process, as happens in tests.
var ginModeOnce sync.Once

const maxHeaderBytes = 1 << 20

// Server is the proxy HTTP listener: a gin engine whose every route
// is the gateway's catch-all handler.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handler    gin.HandlerFunc
	logger     observability.Logger
	cfg        config.ServerConfig
	mu         sync.RWMutex
	running    bool
}

// NewServer creates the proxy server around the given catch-all
// handler. Middleware must be added with Use before Start.
func NewServer(cfg config.ServerConfig, handler gin.HandlerFunc, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	return &Server{
		engine:  gin.New(),
		handler: handler,
		logger:  logger,
		cfg:     cfg,
	}
}

// Use adds middleware to the engine.
func (s *Server) Use(middleware ...gin.HandlerFunc) {
	s.engine.Use(middleware...)
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start registers the catch-all routes and serves until the listener
// closes. It blocks; run it on its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.engine.Any("/*path", s.handler)
	s.engine.NoRoute(s.handler)

	s.httpServer = &http.Server{
		Addr:           s.cfg.Addr(),
		Handler:        s.engine,
		ReadTimeout:    s.cfg.ReadTimeout.Duration(),
		WriteTimeout:   s.cfg.WriteTimeout.Duration(),
		IdleTimeout:    s.cfg.IdleTimeout.Duration(),
		MaxHeaderBytes: maxHeaderBytes,
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", s.cfg.Addr()),
		observability.Duration("readTimeout", s.cfg.ReadTimeout.Duration()),
		observability.Duration("writeTimeout", s.cfg.WriteTimeout.Duration()))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop shuts the server down gracefully, waiting for in-flight
// requests up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
