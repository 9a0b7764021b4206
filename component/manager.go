package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/metric"
)

// managedStage tracks a stage and its lifecycle state so shutdown can
// run in reverse start order and skip stages that never started.
type managedStage struct {
	stage Stage
	state State
}

// Manager starts a set of stages in registration order and stops them in
// reverse. A start failure rolls back the stages already running.
type Manager struct {
	stages []*managedStage
	logger *slog.Logger
	core   *metric.Metrics
}

// NewManager creates an empty stage manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// UseMetrics wires the per-stage status gauge. May be left unset.
func (m *Manager) UseMetrics(core *metric.Metrics) {
	m.core = core
}

func (m *Manager) recordStatus(stage string, running bool) {
	if m.core == nil {
		return
	}
	status := 0
	if running {
		status = 1
	}
	m.core.RecordStageStatus(stage, status)
}

// Register appends a stage. Registration order is start order.
func (m *Manager) Register(stage Stage) {
	m.stages = append(m.stages, &managedStage{stage: stage, state: StateCreated})
}

// StartAll starts every registered stage. On failure the already-started
// stages are stopped in reverse order and the start error is returned.
func (m *Manager) StartAll(ctx context.Context, stopTimeout time.Duration) error {
	for i, ms := range m.stages {
		m.logger.Info("starting stage", "stage", ms.stage.Name())
		if err := ms.stage.Start(ctx); err != nil {
			ms.state = StateFailed
			m.logger.Error("stage failed to start",
				"stage", ms.stage.Name(),
				"error", err)
			m.stopRange(i-1, stopTimeout)
			return errors.Wrap(err, "Manager", "StartAll", "start "+ms.stage.Name())
		}
		ms.state = StateStarted
		m.recordStatus(ms.stage.Name(), true)
	}
	return nil
}

// StopAll stops every started stage in reverse order. All stages are
// attempted; the first error is returned.
func (m *Manager) StopAll(timeout time.Duration) error {
	return m.stopRange(len(m.stages)-1, timeout)
}

// Healthy reports whether every started stage is healthy.
func (m *Manager) Healthy() bool {
	for _, ms := range m.stages {
		if ms.state != StateStarted {
			continue
		}
		if !ms.stage.Health().Healthy {
			return false
		}
	}
	return true
}

// HealthByStage returns each registered stage's health, keyed by name.
func (m *Manager) HealthByStage() map[string]HealthStatus {
	health := make(map[string]HealthStatus, len(m.stages))
	for _, ms := range m.stages {
		health[ms.stage.Name()] = ms.stage.Health()
	}
	return health
}

func (m *Manager) stopRange(from int, timeout time.Duration) error {
	var firstErr error
	for i := from; i >= 0; i-- {
		ms := m.stages[i]
		if ms.state != StateStarted {
			continue
		}
		m.logger.Info("stopping stage", "stage", ms.stage.Name())
		m.recordStatus(ms.stage.Name(), false)
		if err := ms.stage.Stop(timeout); err != nil {
			ms.state = StateFailed
			m.logger.Error("stage failed to stop",
				"stage", ms.stage.Name(),
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ms.state = StateStopped
	}
	return firstErr
}
