package archiver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/component"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/pipeline"
	"github.com/c360/agrostream/pkg/retry"
	"github.com/c360/agrostream/telemetry"
)

var alertsChannel = bus.Channel{Name: "alerts", Stream: "AGRO_ALERTS", SubjectPrefix: "alerts"}

type fakeMessage struct {
	mu      sync.Mutex
	data    []byte
	subject string
	acked   bool
	termed  bool
	naks    int
}

func (m *fakeMessage) Data() []byte    { return m.data }
func (m *fakeMessage) Subject() string { return m.subject }
func (m *fakeMessage) Deliveries() int { return 1 }

func (m *fakeMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *fakeMessage) Nak(time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naks++
	return nil
}

func (m *fakeMessage) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termed = true
	return nil
}

func (m *fakeMessage) state() (acked, termed bool, naks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.termed, m.naks
}

type fakeSource struct {
	mu    sync.Mutex
	queue []bus.Message
}

func (s *fakeSource) push(msgs ...bus.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, msgs...)
}

func (s *fakeSource) Poll(context.Context, time.Duration) (bus.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, bus.ErrNoMessage
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, nil
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []telemetry.Alert
	seen     map[string]bool
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: map[string]bool{}}
}

func (s *fakeStore) Insert(_ context.Context, alert telemetry.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.seen[alert.AlertID] {
		return false, nil
	}
	s.seen[alert.AlertID] = true
	s.inserted = append(s.inserted, alert)
	return true, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func testAlert() telemetry.Alert {
	return telemetry.Alert{
		AlertID:      telemetry.NewAlertID("r-9", "soil_moisture_below_30"),
		PropertyID:   "farm-1",
		PlotID:       "plot-2",
		Rule:         "soil_moisture_below_30",
		Severity:     telemetry.SeverityHigh,
		Message:      "soil moisture low (18%)",
		CreatedAtUTC: time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC),
	}
}

func encode(t *testing.T, a telemetry.Alert) []byte {
	t.Helper()
	data, err := a.Encode()
	require.NoError(t, err)
	return data
}

func testConfig() Config {
	return Config{
		Alerts: alertsChannel,
		Group:  "alert-archiver",
		Loop: pipeline.Config{
			PollWait:      5 * time.Millisecond,
			MaxDeliveries: 3,
			Backoff:       retry.Config{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2.0},
		},
	}
}

func startArchiver(t *testing.T, source *fakeSource, store AlertStore) *Archiver {
	t.Helper()

	subscribe := func(context.Context, bus.Channel, string) (pipeline.Source, error) {
		return source, nil
	}

	stage, err := New(testConfig(), subscribe, store, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, stage.Start(context.Background()))
	t.Cleanup(func() { _ = stage.Stop(time.Second) })
	return stage
}

func TestNewValidation(t *testing.T) {
	subscribe := func(context.Context, bus.Channel, string) (pipeline.Source, error) {
		return &fakeSource{}, nil
	}

	_, err := New(testConfig(), nil, newFakeStore(), component.Dependencies{})
	assert.Error(t, err)

	_, err = New(testConfig(), subscribe, nil, component.Dependencies{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Group = ""
	stage, err := New(cfg, subscribe, newFakeStore(), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "archiver", stage.Name())
}

func TestAlertIsPersistedAndAcked(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	msg := &fakeMessage{data: encode(t, testAlert()), subject: "alerts.plot-2"}
	source.push(msg)

	startArchiver(t, source, store)

	assert.Eventually(t, func() bool {
		acked, _, _ := msg.state()
		return acked
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, store.count())
	assert.Equal(t, testAlert().AlertID, store.inserted[0].AlertID)
}

func TestRedeliveredAlertIsAckedWithoutSecondInsert(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	first := &fakeMessage{data: encode(t, testAlert()), subject: "alerts.plot-2"}
	redelivery := &fakeMessage{data: encode(t, testAlert()), subject: "alerts.plot-2"}
	source.push(first, redelivery)

	startArchiver(t, source, store)

	assert.Eventually(t, func() bool {
		acked, _, _ := redelivery.state()
		return acked
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, store.count(), "duplicate insert must be a no-op")
}

func TestStoreFailureSchedulesRedelivery(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	store.err = fmt.Errorf("database locked")
	msg := &fakeMessage{data: encode(t, testAlert()), subject: "alerts.plot-2"}
	source.push(msg)

	startArchiver(t, source, store)

	assert.Eventually(t, func() bool {
		_, _, naks := msg.state()
		return naks == 1
	}, time.Second, 5*time.Millisecond)

	acked, termed, _ := msg.state()
	assert.False(t, acked)
	assert.False(t, termed)
}

func TestInvalidAlertIsTerminated(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	store.err = errors.WrapInvalid(errors.ErrMissingField, "Alert", "Validate", "check required fields")
	msg := &fakeMessage{data: encode(t, testAlert()), subject: "alerts.plot-2"}
	source.push(msg)

	startArchiver(t, source, store)

	assert.Eventually(t, func() bool {
		_, termed, _ := msg.state()
		return termed
	}, time.Second, 5*time.Millisecond)

	_, _, naks := msg.state()
	assert.Zero(t, naks)
}

func TestUndecodableAlertIsTerminated(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	msg := &fakeMessage{data: []byte("{{"), subject: "alerts.plot-2"}
	source.push(msg)

	startArchiver(t, source, store)

	assert.Eventually(t, func() bool {
		_, termed, _ := msg.state()
		return termed
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, store.count())
}
