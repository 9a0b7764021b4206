package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/agrostream/component"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/metric"
)

// Server runs the query API as a pipeline stage.
type Server struct {
	addr     string
	handlers *Handlers
	registry *metric.MetricsRegistry
	logger   *slog.Logger

	server      *http.Server
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	serveErr    error
}

// NewServer builds the query API stage listening on addr. registry may
// be nil; the metrics endpoint is then omitted.
func NewServer(addr string, handlers *Handlers, registry *metric.MetricsRegistry,
	deps component.Dependencies) (*Server, error) {
	if addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer",
			"listen address is required")
	}
	if handlers == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "NewServer",
			"handlers are required")
	}

	return &Server{
		addr:     addr,
		handlers: handlers,
		registry: registry,
		logger:   deps.GetLoggerWithComponent("api"),
	}, nil
}

// Name identifies the stage.
func (s *Server) Name() string {
	return "api"
}

// Start begins serving the query endpoints.
func (s *Server) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "check running state")
	}

	mux := http.NewServeMux()
	s.handlers.Routes(mux)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			s.serveErr = err
			s.running = false
			s.mu.Unlock()
			s.logger.Error("query server stopped unexpectedly", "error", err)
		}
	}()

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("query server started", "addr", s.addr)
	return nil
}

// Stop shuts the server down, letting in-flight requests finish within
// the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if !running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("shutdown incomplete: %w", err),
			"Server", "Stop", "graceful shutdown")
	}
	return nil
}

// Health reports server liveness.
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	errorCount := 0
	if s.serveErr != nil {
		errorCount = 1
	}

	return component.HealthStatus{
		Healthy:    s.running,
		LastCheck:  time.Now(),
		ErrorCount: errorCount,
		Uptime:     time.Since(s.startTime),
	}
}
