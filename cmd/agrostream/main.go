// Package main implements the entry point for the agrostream service.
// Agrostream ingests agricultural sensor telemetry over HTTP, fans it out
// through NATS JetStream, evaluates alerting rules, and serves dashboard
// queries over time-series and relational stores.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/agrostream/api"
	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/component"
	"github.com/c360/agrostream/config"
	"github.com/c360/agrostream/ingest"
	"github.com/c360/agrostream/metric"
	"github.com/c360/agrostream/natsclient"
	"github.com/c360/agrostream/output/archiver"
	"github.com/c360/agrostream/pipeline"
	"github.com/c360/agrostream/processor/alerter"
	"github.com/c360/agrostream/storage/alertdb"
	"github.com/c360/agrostream/storage/tsdb"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "agrostream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting agrostream (sensor telemetry pipeline)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"stages", cliCfg.Stages)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	stages, err := parseStages(cliCfg.Stages)
	if err != nil {
		return err
	}

	ctx := context.Background()
	registry := metric.NewMetricsRegistry()

	natsClient, err := connectNATS(ctx, cfg, registry.CoreMetrics())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			slog.Warn("NATS close reported an error", "error", err)
		}
	}()

	streamBus := bus.New(natsClient)
	readings := cfg.Channels.Readings.Channel()
	alerts := cfg.Channels.Alerts.Channel()
	deadLetter := cfg.Channels.DeadLetter.Channel()

	slog.Info("Provisioning streams",
		"readings", readings.Stream,
		"alerts", alerts.Stream,
		"dead_letter", deadLetter.Stream)
	if err := streamBus.Provision(ctx, readings, alerts, deadLetter); err != nil {
		return fmt.Errorf("provision streams: %w", err)
	}

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: registry,
		Logger:          logger,
	}

	manager := component.NewManager(logger)
	manager.UseMetrics(registry.CoreMetrics())
	resources, err := buildStages(cfg, stages, streamBus, deps, manager)
	if err != nil {
		return err
	}
	defer resources.close()

	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// connectNATS builds the NATS client, wires its health transitions into
// the core metrics, and establishes the connection.
func connectNATS(ctx context.Context, cfg *config.Config, core *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	}
	if cfg.NATS.ReconnectWait.Std() > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()))
	}
	if cfg.NATS.Timeout.Std() > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.NATS.Timeout.Std()))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	core.RecordNATSStatus(true)

	// Registered after Connect so the initial connection does not count
	// as a reconnect.
	natsClient.OnHealthChange(func(healthy bool) {
		core.RecordNATSStatus(healthy)
		if healthy {
			core.RecordNATSReconnect()
		}
		open := 0
		if natsClient.Status() == natsclient.StatusCircuitOpen {
			open = 1
		}
		core.RecordCircuitBreakerState(open)
	})

	return natsClient, nil
}

// sharedResources holds the stores opened for the enabled stages so they
// can be closed after shutdown.
type sharedResources struct {
	tsClient *tsdb.Client
	alertDB  *alertdb.Store
}

func (r *sharedResources) close() {
	if r.tsClient != nil {
		r.tsClient.Close()
	}
	if r.alertDB != nil {
		if err := r.alertDB.Close(); err != nil {
			slog.Warn("closing alert store failed", "error", err)
		}
	}
}

// timeSeries opens the InfluxDB client on first use. Ingest and the API
// share one client when both run in the same process.
func (r *sharedResources) timeSeries(cfg *config.Config) (*tsdb.Client, error) {
	if r.tsClient != nil {
		return r.tsClient, nil
	}
	client, err := tsdb.NewClient(cfg.Influx)
	if err != nil {
		return nil, fmt.Errorf("create influx client: %w", err)
	}
	r.tsClient = client
	return client, nil
}

// alertStore opens the SQLite alert database on first use.
func (r *sharedResources) alertStore(cfg *config.Config) (*alertdb.Store, error) {
	if r.alertDB != nil {
		return r.alertDB, nil
	}
	store, err := alertdb.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	r.alertDB = store
	return store, nil
}

// buildStages constructs the enabled stages and registers them with the
// manager in pipeline order.
func buildStages(
	cfg *config.Config,
	stages stageSet,
	streamBus *bus.Bus,
	deps component.Dependencies,
	manager *component.Manager,
) (*sharedResources, error) {
	resources := &sharedResources{}

	subscribe := pipeline.SubscribeFunc(
		func(ctx context.Context, ch bus.Channel, group string) (pipeline.Source, error) {
			cursor, err := streamBus.Subscribe(ctx, ch, group)
			if err != nil {
				return nil, err
			}
			return cursor, nil
		})
	loopOpts := []pipeline.Option{
		pipeline.WithDeadLetter(streamBus, cfg.Channels.DeadLetter.Channel()),
		pipeline.WithMetrics(deps.MetricsRegistry.CoreMetrics()),
	}

	if stages.has(stageIngest) {
		tsClient, err := resources.timeSeries(cfg)
		if err != nil {
			resources.close()
			return nil, err
		}
		writer, err := ingest.NewWriter(streamBus, cfg.Channels.Readings.Channel(),
			tsClient.Writer(), deps.MetricsRegistry.CoreMetrics(),
			deps.GetLoggerWithComponent("ingest"))
		if err != nil {
			resources.close()
			return nil, fmt.Errorf("create ingest writer: %w", err)
		}
		service, err := ingest.NewService(cfg.HTTP.IngestAddr, writer, deps)
		if err != nil {
			resources.close()
			return nil, fmt.Errorf("create ingest service: %w", err)
		}
		manager.Register(service)
	}

	if stages.has(stageAlerts) {
		worker, err := alerter.New(alerter.Config{
			Readings: cfg.Channels.Readings.Channel(),
			Alerts:   cfg.Channels.Alerts.Channel(),
			Group:    cfg.Groups.AlertsWorker,
			Loop:     cfg.Loop.Pipeline("alerter"),
		}, subscribe, streamBus, deps, loopOpts...)
		if err != nil {
			resources.close()
			return nil, fmt.Errorf("create alerter: %w", err)
		}
		manager.Register(worker)
	}

	if stages.has(stageArchive) {
		store, err := resources.alertStore(cfg)
		if err != nil {
			resources.close()
			return nil, err
		}
		worker, err := archiver.New(archiver.Config{
			Alerts: cfg.Channels.Alerts.Channel(),
			Group:  cfg.Groups.AlertArchiver,
			Loop:   cfg.Loop.Pipeline("archiver"),
		}, subscribe, store, deps, loopOpts...)
		if err != nil {
			resources.close()
			return nil, fmt.Errorf("create archiver: %w", err)
		}
		manager.Register(worker)
	}

	if stages.has(stageAPI) {
		store, err := resources.alertStore(cfg)
		if err != nil {
			resources.close()
			return nil, err
		}
		tsClient, err := resources.timeSeries(cfg)
		if err != nil {
			resources.close()
			return nil, err
		}
		handlers := api.NewHandlers(store, tsClient.Reader(), manager,
			deps.GetLoggerWithComponent("api"))
		server, err := api.NewServer(cfg.HTTP.APIAddr, handlers, deps.MetricsRegistry, deps)
		if err != nil {
			resources.close()
			return nil, fmt.Errorf("create api server: %w", err)
		}
		manager.Register(server)
	}

	return resources, nil
}

// runWithSignalHandling starts the stages and stops them on SIGINT/SIGTERM.
func runWithSignalHandling(ctx context.Context, manager *component.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx, shutdownTimeout); err != nil {
		return fmt.Errorf("start stages: %w", err)
	}
	slog.Info("agrostream started (telemetry pipeline ready)")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping stages", "error", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("agrostream shutdown complete")
	return nil
}
