package component

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agrostream/metric"
)

type fakeStage struct {
	name     string
	startErr error
	stopErr  error
	healthy  bool

	starts int
	stops  int
	log    *[]string
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Start(context.Context) error {
	f.starts++
	if f.log != nil {
		*f.log = append(*f.log, "start:"+f.name)
	}
	return f.startErr
}

func (f *fakeStage) Stop(time.Duration) error {
	f.stops++
	if f.log != nil {
		*f.log = append(*f.log, "stop:"+f.name)
	}
	return f.stopErr
}

func (f *fakeStage) Health() HealthStatus {
	return HealthStatus{Healthy: f.healthy, LastCheck: time.Now()}
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var log []string
	first := &fakeStage{name: "ingest", healthy: true, log: &log}
	second := &fakeStage{name: "alerter", healthy: true, log: &log}

	manager := NewManager(nil)
	manager.Register(first)
	manager.Register(second)

	require.NoError(t, manager.StartAll(context.Background(), time.Second))
	require.NoError(t, manager.StopAll(time.Second))

	assert.Equal(t, []string{"start:ingest", "start:alerter", "stop:alerter", "stop:ingest"}, log)
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	first := &fakeStage{name: "ingest", healthy: true}
	second := &fakeStage{name: "alerter", startErr: fmt.Errorf("no nats")}
	third := &fakeStage{name: "archiver"}

	manager := NewManager(nil)
	manager.Register(first)
	manager.Register(second)
	manager.Register(third)

	err := manager.StartAll(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alerter")

	assert.Equal(t, 1, first.stops, "started stage rolls back")
	assert.Zero(t, third.starts, "later stages never start")
	assert.Zero(t, third.stops)
}

func TestManagerStopCollectsFirstError(t *testing.T) {
	first := &fakeStage{name: "ingest", healthy: true}
	second := &fakeStage{name: "alerter", healthy: true, stopErr: fmt.Errorf("drain timeout")}

	manager := NewManager(nil)
	manager.Register(first)
	manager.Register(second)

	require.NoError(t, manager.StartAll(context.Background(), time.Second))
	err := manager.StopAll(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain timeout")
	assert.Equal(t, 1, first.stops, "remaining stages still stop")
}

func TestManagerHealth(t *testing.T) {
	first := &fakeStage{name: "ingest", healthy: true}
	second := &fakeStage{name: "alerter", healthy: true}

	manager := NewManager(nil)
	manager.Register(first)
	manager.Register(second)
	require.NoError(t, manager.StartAll(context.Background(), time.Second))

	assert.True(t, manager.Healthy())

	second.healthy = false
	assert.False(t, manager.Healthy())

	health := manager.HealthByStage()
	assert.True(t, health["ingest"].Healthy)
	assert.False(t, health["alerter"].Healthy)
}

func TestManagerRecordsStageStatus(t *testing.T) {
	core := metric.NewMetricsRegistry().CoreMetrics()
	stage := &fakeStage{name: "ingest", healthy: true}

	manager := NewManager(nil)
	manager.UseMetrics(core)
	manager.Register(stage)

	require.NoError(t, manager.StartAll(context.Background(), time.Second))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.StageStatus.WithLabelValues("ingest")))

	require.NoError(t, manager.StopAll(time.Second))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.StageStatus.WithLabelValues("ingest")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
