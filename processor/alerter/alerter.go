// Package alerter is the rule-evaluation stage. It consumes readings
// from the readings channel, evaluates the alert rules, and publishes
// generated alerts to the alerts channel keyed by plot id. Alert ids are
// deterministic, so a redelivered reading regenerates the same alert and
// the sink's conflict handling absorbs the duplicate.
package alerter

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
	"github.com/c360/agrostream/rule"
	"github.com/c360/agrostream/telemetry"
)

// Config wires the alerter to its channels and consumer group.
type Config struct {
	Readings bus.Channel
	Alerts   bus.Channel
	Group    string
	Loop     pipeline.Config
}

// Alerter is the rule-evaluation stage.
type Alerter struct {
	name      string
	cfg       Config
	evaluator *rule.Evaluator
	subscribe pipeline.SubscribeFunc
	publisher bus.Publisher
	logger    *slog.Logger
	metrics   *alerterMetrics
	core      *metric.Metrics
	loopOpts  []pipeline.Option

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	loop        *pipeline.Loop[telemetry.Reading]
	running     bool
	startTime   time.Time
}

// New builds the alerter stage.
func New(cfg Config, subscribe pipeline.SubscribeFunc, publisher bus.Publisher,
	deps component.Dependencies, loopOpts ...pipeline.Option) (*Alerter, error) {
	if subscribe == nil || publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Alerter", "New",
			"subscribe and publisher are required")
	}
	if err := cfg.Readings.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Alerts.Validate(); err != nil {
		return nil, err
	}
	if cfg.Group == "" {
		cfg.Group = "alerts-worker"
	}
	if cfg.Loop.Name == "" {
		cfg.Loop.Name = "alerter"
	}

	metrics, err := newAlerterMetrics(deps.MetricsRegistry)
	if err != nil {
		deps.GetLogger().Error("failed to initialize alerter metrics", "error", err)
		metrics = nil
	}

	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}

	return &Alerter{
		name:      "alerter",
		cfg:       cfg,
		evaluator: rule.NewEvaluator(),
		subscribe: subscribe,
		publisher: publisher,
		logger:    deps.GetLoggerWithComponent("alerter"),
		metrics:   metrics,
		core:      core,
		loopOpts:  loopOpts,
	}, nil
}

// Name identifies the stage.
func (a *Alerter) Name() string {
	return a.name
}

// Start subscribes the consumer group and launches the consume loop.
func (a *Alerter) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Alerter", "Start", "check running state")
	}

	source, err := a.subscribe(ctx, a.cfg.Readings, a.cfg.Group)
	if err != nil {
		return errors.WrapTransient(err, "Alerter", "Start", "subscribe readings channel")
	}

	opts := append([]pipeline.Option{pipeline.WithLogger(a.logger)}, a.loopOpts...)
	loop, err := pipeline.New(a.cfg.Loop, source, telemetry.DecodeReading, a.process, opts...)
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

	a.logger.Info("alerter started",
		"channel", a.cfg.Readings.Name,
		"group", a.cfg.Group)
	return nil
}

// Stop drains the consume loop.
func (a *Alerter) Stop(timeout time.Duration) error {
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
func (a *Alerter) Health() component.HealthStatus {
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

// process evaluates one reading and publishes any generated alert. A
// publish failure is transient: the loop schedules redelivery and the
// deterministic alert id keeps the retry idempotent downstream.
func (a *Alerter) process(ctx context.Context, reading telemetry.Reading) error {
	start := time.Now()
	alert, fired := a.evaluator.Evaluate(reading)
	a.metrics.recordEvaluation(fired, time.Since(start))

	if !fired {
		return nil
	}

	payload, err := alert.Encode()
	if err != nil {
		return err
	}

	if err := a.publisher.Publish(ctx, a.cfg.Alerts, alert.PlotID, payload); err != nil {
		a.metrics.recordError("publish")
		return errors.WrapTransient(err, "Alerter", "process", "publish alert")
	}

	a.logger.Debug("alert published",
		"alert_id", alert.AlertID,
		"plot_id", alert.PlotID,
		"rule", alert.Rule)
	a.metrics.recordAlert(alert.Rule)
	if a.core != nil {
		a.core.RecordAlertGenerated(alert.Rule)
	}
	return nil
}
