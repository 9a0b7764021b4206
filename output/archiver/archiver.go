// Package archiver is the alert persistence stage. It consumes alerts
// from the alerts channel and inserts them into the relational store.
// The store ignores conflicting alert ids, so at-least-once delivery
// from the bus lands each alert exactly once.
package archiver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/component"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/metric"
	"github.com/c360/agrostream/pipeline"
	"github.com/c360/agrostream/telemetry"
)

// AlertStore is the archiver's view of the relational sink. Satisfied by
// alertdb.Store.
type AlertStore interface {
	Insert(ctx context.Context, alert telemetry.Alert) (bool, error)
}

// Config wires the archiver to its channel and consumer group.
type Config struct {
	Alerts bus.Channel
	Group  string
	Loop   pipeline.Config
}

// Archiver is the alert persistence stage.
type Archiver struct {
	name      string
	cfg       Config
	subscribe pipeline.SubscribeFunc
	store     AlertStore
	logger    *slog.Logger
	metrics   *archiverMetrics
	core      *metric.Metrics
	loopOpts  []pipeline.Option

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	loop        *pipeline.Loop[telemetry.Alert]
	running     bool
	startTime   time.Time
}

// New builds the archiver stage.
func New(cfg Config, subscribe pipeline.SubscribeFunc, store AlertStore,
	deps component.Dependencies, loopOpts ...pipeline.Option) (*Archiver, error) {
	if subscribe == nil || store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Archiver", "New",
			"subscribe and store are required")
	}
	if err := cfg.Alerts.Validate(); err != nil {
		return nil, err
	}
	if cfg.Group == "" {
		cfg.Group = "alert-archiver"
	}
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = "archiver"
	}

	metrics, err := newArchiverMetrics(deps.MetricsRegistry)
	if err != nil {
		deps.GetLogger().Error("failed to initialize archiver metrics", "error", err)
		metrics = nil
	}

	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}

	return &Archiver{
		name:      "archiver",
		cfg:       cfg,
		subscribe: subscribe,
		store:     store,
		logger:    deps.GetLoggerWithComponent("archiver"),
		metrics:   metrics,
		core:      core,
		loopOpts:  loopOpts,
	}, nil
}

// Name identifies the stage.
func (a *Archiver) Name() string {
	return a.name
}

// Start subscribes the consumer group and launches the consume loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Archiver", "Start", "check running state")
	}

	source, err := a.subscribe(ctx, a.cfg.Alerts, a.cfg.Group)
	if err != nil {
		return errors.WrapTransient(err, "Archiver", "Start", "subscribe alerts channel")
	}

	opts := append([]pipeline.Option{pipeline.WithLogger(a.logger)}, a.loopOpts...)
	loop, err := pipeline.New(a.cfg.Loop, source, telemetry.DecodeAlert, a.persist, opts...)
	if err != nil {
		return err
	}

	if err := loop.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.loop = loop
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	a.logger.Info("archiver started",
		"channel", a.cfg.Alerts.Name,
		"group", a.cfg.Group)
	return nil
}

// Stop drains the consume loop.
func (a *Archiver) Stop(timeout time.Duration) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.mu.Lock()
	loop := a.loop
	running := a.running
	a.running = false
	a.mu.Unlock()

	if !running || loop == nil {
		return nil
	}
	return loop.Stop(timeout)
}

// Health reports stage liveness and the loop error counters.
func (a *Archiver) Health() component.HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:   a.running,
		LastCheck: time.Now(),
		Uptime:    time.Since(a.startTime),
	}
	if a.loop != nil {
		stats := a.loop.Stats()
		status.ErrorCount = int(stats.Poisoned + stats.DeadLettered)
	}
	return status
}

// persist inserts one alert. Duplicates are expected under redelivery
// and logged at debug only. Store failures are transient; the loop
// schedules redelivery.
func (a *Archiver) persist(ctx context.Context, alert telemetry.Alert) error {
	start := time.Now()
	inserted, err := a.store.Insert(ctx, alert)
	if err != nil {
		if errors.IsInvalid(err) {
			// An alert that fails validation will fail on every
			// redelivery; let the loop dead-letter it.
			a.metrics.recordPersist("invalid", time.Since(start))
			return err
		}
		a.metrics.recordPersist("error", time.Since(start))
		return errors.WrapTransient(err, "Archiver", "persist", "insert alert")
	}

	if inserted {
		a.metrics.recordPersist("inserted", time.Since(start))
		a.recordPersisted("inserted")
		a.logger.Debug("alert archived",
			"alert_id", alert.AlertID,
			"plot_id", alert.PlotID,
			"rule", alert.Rule)
	} else {
		a.metrics.recordPersist("duplicate", time.Since(start))
		a.recordPersisted("duplicate")
		a.logger.Debug("duplicate alert ignored",
			"alert_id", alert.AlertID)
	}
	return nil
}

func (a *Archiver) recordPersisted(status string) {
	if a.core != nil {
		a.core.RecordAlertPersisted(status)
	}
}
