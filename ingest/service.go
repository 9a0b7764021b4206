package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/agrostream/component"
	"github.com/c360/agrostream/errors"
)

// Service runs the ingestion HTTP server as a pipeline stage.
type Service struct {
	addr    string
	handler *Handler
	logger  *slog.Logger

	server      *http.Server
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	serveErr    error
}

// NewService builds the ingestion stage listening on addr.
func NewService(addr string, writer Ingestor, deps component.Dependencies) (*Service, error) {
	if addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Service", "NewService",
			"listen address is required")
	}
	if writer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Service", "NewService",
			"writer is required")
	}

	logger := deps.GetLoggerWithComponent("ingest")
	return &Service{
		addr:    addr,
		handler: NewHandler(writer, logger),
		logger:  logger,
	}, nil
}

// Name identifies the stage.
func (s *Service) Name() string {
	return "ingest"
}

// Start begins serving the ingestion endpoint.
func (s *Service) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Service", "Start", "check running state")
	}

	mux := http.NewServeMux()
	s.handler.Routes(mux)

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
			s.logger.Error("ingestion server stopped unexpectedly", "error", err)
		}
	}()

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("ingestion server started", "addr", s.addr)
	return nil
}

// Stop shuts the server down, letting in-flight requests finish within
// the timeout.
func (s *Service) Stop(timeout time.Duration) error {
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
			"Service", "Stop", "graceful shutdown")
	}
	return nil
}

// Health reports server liveness.
func (s *Service) Health() component.HealthStatus {
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
