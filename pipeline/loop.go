// Package pipeline provides the durable consume loop shared by the
// stream-consuming stages. A Loop polls a channel cursor, decodes each
// delivery, hands it to the stage's action, and settles the message:
// ack on success, delayed redelivery on transient failure, dead-letter
// and terminate once the payload is poison or the delivery cap is hit.
package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/metric"
	"github.com/c360/agrostream/pkg/retry"
)

// State describes where the loop is in its lifecycle.
type State int32

const (
	// StateStopped is the initial and terminal state.
	StateStopped State = iota
	// StateStarting is set while Start wires the loop up.
	StateStarting
	// StatePolling is set while waiting on the cursor.
	StatePolling
	// StateProcessing is set while a delivery is in flight.
	StateProcessing
	// StateStopping is set once shutdown is signalled.
	StateStopping
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Source yields deliveries from a channel. *bus.Cursor is the production
// implementation.
type Source interface {
	Poll(ctx context.Context, wait time.Duration) (bus.Message, error)
}

// SubscribeFunc binds a consumer group to a channel at stage start.
// Closing over bus.Bus.Subscribe is the production implementation.
type SubscribeFunc func(ctx context.Context, ch bus.Channel, group string) (Source, error)

// DecodeFunc turns a raw payload into the stage's message type.
type DecodeFunc[T any] func([]byte) (T, error)

// ActFunc performs the stage's work for one decoded message. A nil
// return acks the delivery. An invalid-classified error dead-letters it
// immediately; anything else naks it for redelivery with backoff.
type ActFunc[T any] func(context.Context, T) error

// Config tunes a loop. Zero values take the defaults below.
type Config struct {
	// Name identifies the loop in logs, e.g. "alerter".
	Name string
	// PollWait bounds each cursor poll. Default 1s.
	PollWait time.Duration
	// MaxDeliveries is the delivery count at which a repeatedly failing
	// message is dead-lettered instead of redelivered. Default 5.
	MaxDeliveries int
	// Backoff shapes the redelivery delay by delivery count.
	Backoff retry.Config
}

const (
	defaultPollWait      = time.Second
	defaultMaxDeliveries = 5
)

// Option configures optional loop collaborators.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	deadLetter *deadLetterSink
	metrics    *metric.Metrics
}

type deadLetterSink struct {
	publisher bus.Publisher
	channel   bus.Channel
}

// WithLogger sets the loop logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDeadLetter routes poison and exhausted messages to a channel
// instead of dropping them on Term.
func WithDeadLetter(publisher bus.Publisher, channel bus.Channel) Option {
	return func(o *options) {
		o.deadLetter = &deadLetterSink{publisher: publisher, channel: channel}
	}
}

// WithMetrics records the loop's retry, poison, and dead-letter counters
// on the shared pipeline metrics, labelled by the loop name.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// DeadLetterEnvelope wraps a failed payload with enough context to
// diagnose it later. Payload is base64 in the JSON encoding.
type DeadLetterEnvelope struct {
	SourceSubject string    `json:"source_subject"`
	Deliveries    int       `json:"deliveries"`
	Reason        string    `json:"reason"`
	FailedAtUTC   time.Time `json:"failed_at_utc"`
	Payload       []byte    `json:"payload"`
}

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Processed    int64
	Poisoned     int64
	Retried      int64
	DeadLettered int64
	LastActivity time.Time
}

// Loop is a single-goroutine durable consumer. Messages on one cursor
// are handled strictly in delivery order; concurrency comes from running
// independent loops, never from fanning one cursor out.
type Loop[T any] struct {
	name   string
	source Source
	decode DecodeFunc[T]
	act    ActFunc[T]

	cfg     Config
	logger  *slog.Logger
	dlq     *deadLetterSink
	metrics *metric.Metrics

	shutdown    chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	running     bool
	stopped     bool
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	wg          *sync.WaitGroup
	state       atomic.Int32

	processed    int64
	poisoned     int64
	retried      int64
	deadLettered int64
	lastActivity time.Time
}

// New builds a loop over a source. The decode and act funcs are required.
func New[T any](cfg Config, source Source, decode DecodeFunc[T], act ActFunc[T], opts ...Option) (*Loop[T], error) {
	if source == nil || decode == nil || act == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loop", "New",
			"source, decode and act are required")
	}
	if cfg.Name == "" {
		cfg.Name = "loop"
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = defaultPollWait
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	return &Loop[T]{
		name:     cfg.Name,
		source:   source,
		decode:   decode,
		act:      act,
		cfg:      cfg,
		logger:   o.logger,
		dlq:      o.deadLetter,
		metrics:  o.metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		wg:       &sync.WaitGroup{},
	}, nil
}

// State returns the loop's current lifecycle state.
func (l *Loop[T]) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the loop counters.
func (l *Loop[T]) Stats() Stats {
	l.mu.RLock()
	last := l.lastActivity
	l.mu.RUnlock()

	return Stats{
		Processed:    atomic.LoadInt64(&l.processed),
		Poisoned:     atomic.LoadInt64(&l.poisoned),
		Retried:      atomic.LoadInt64(&l.retried),
		DeadLettered: atomic.LoadInt64(&l.deadLettered),
		LastActivity: last,
	}
}

// Start launches the consume goroutine.
func (l *Loop[T]) Start(ctx context.Context) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Loop", "Start", "check running state")
	}

	l.state.Store(int32(StateStarting))
	l.running = true

	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("consume loop started",
		"component", l.name,
		"poll_wait", l.cfg.PollWait,
		"max_deliveries", l.cfg.MaxDeliveries)

	return nil
}

// Stop signals shutdown and waits for the in-flight message to settle.
// A Stop that times out may be retried; the shutdown signal is sent once.
func (l *Loop[T]) Stop(timeout time.Duration) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if !l.running {
		return nil
	}

	l.state.Store(int32(StateStopping))
	if !l.stopped {
		l.stopped = true
		close(l.shutdown)
	}

	waitCh := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Loop", "Stop", "graceful shutdown")
	}

	l.running = false
	l.state.Store(int32(StateStopped))

	l.logger.Info("consume loop stopped", "component", l.name)
	return nil
}

// Done is closed once the loop has fully stopped.
func (l *Loop[T]) Done() <-chan struct{} {
	return l.done
}

func (l *Loop[T]) run(ctx context.Context) {
	// done closes whenever the goroutine exits, including on context
	// cancellation where Stop is never called.
	defer func() {
		l.state.Store(int32(StateStopped))
		l.doneOnce.Do(func() { close(l.done) })
		l.wg.Done()
	}()

	for {
		select {
		case <-l.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		l.state.Store(int32(StatePolling))
		msg, err := l.source.Poll(ctx, l.cfg.PollWait)
		if err != nil {
			if stderrors.Is(err, bus.ErrNoMessage) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("poll failed",
				"component", l.name,
				"error", err)
			// The poll wait already paces the loop, but a broken cursor
			// can fail immediately. Back off briefly before retrying.
			select {
			case <-time.After(l.cfg.Backoff.DelayFor(0)):
			case <-l.shutdown:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		l.state.Store(int32(StateProcessing))
		l.handle(ctx, msg)
	}
}

// handle settles exactly one delivery.
func (l *Loop[T]) handle(ctx context.Context, msg bus.Message) {
	started := time.Now()
	l.mu.Lock()
	l.lastActivity = started
	l.mu.Unlock()

	value, err := l.decode(msg.Data())
	if err != nil {
		// Poison payload. Redelivery cannot fix a message that does not
		// decode, so park it and move on.
		atomic.AddInt64(&l.poisoned, 1)
		if l.metrics != nil {
			l.metrics.RecordMessagePoisoned(l.name)
			l.metrics.RecordError(l.name, "decode")
		}
		l.logger.Warn("poison message dead-lettered",
			"component", l.name,
			"subject", msg.Subject(),
			"deliveries", msg.Deliveries(),
			"error", err)
		l.park(ctx, msg, err)
		return
	}

	err = l.act(ctx, value)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			// The work is done but the ack was lost; the broker will
			// redeliver and the stage's idempotency absorbs it.
			l.logger.Warn("ack failed",
				"component", l.name,
				"subject", msg.Subject(),
				"error", ackErr)
			return
		}
		atomic.AddInt64(&l.processed, 1)
		if l.metrics != nil {
			l.metrics.RecordProcessingDuration(l.name, "act", time.Since(started))
		}
		return
	}

	if errors.IsInvalid(err) {
		atomic.AddInt64(&l.poisoned, 1)
		if l.metrics != nil {
			l.metrics.RecordMessagePoisoned(l.name)
			l.metrics.RecordError(l.name, "invalid")
		}
		l.logger.Warn("invalid message dead-lettered",
			"component", l.name,
			"subject", msg.Subject(),
			"error", err)
		l.park(ctx, msg, err)
		return
	}

	deliveries := msg.Deliveries()
	if deliveries >= l.cfg.MaxDeliveries {
		l.logger.Error("delivery cap reached, dead-lettering",
			"component", l.name,
			"subject", msg.Subject(),
			"deliveries", deliveries,
			"error", err)
		l.park(ctx, msg, err)
		return
	}

	delay := l.cfg.Backoff.DelayFor(deliveries - 1)
	atomic.AddInt64(&l.retried, 1)
	if l.metrics != nil {
		l.metrics.RecordMessageRetried(l.name)
		l.metrics.RecordError(l.name, "transient")
	}
	l.logger.Warn("processing failed, scheduling redelivery",
		"component", l.name,
		"subject", msg.Subject(),
		"deliveries", deliveries,
		"retry_delay", delay,
		"error", err)
	if nakErr := msg.Nak(delay); nakErr != nil {
		l.logger.Warn("nak failed",
			"component", l.name,
			"subject", msg.Subject(),
			"error", nakErr)
	}
}

// park forwards the message to the dead-letter channel, if configured,
// and terminates it so the broker stops redelivering.
func (l *Loop[T]) park(ctx context.Context, msg bus.Message, cause error) {
	if l.dlq != nil {
		envelope := DeadLetterEnvelope{
			SourceSubject: msg.Subject(),
			Deliveries:    msg.Deliveries(),
			Reason:        cause.Error(),
			FailedAtUTC:   time.Now().UTC(),
			Payload:       msg.Data(),
		}

		data, err := json.Marshal(envelope)
		if err == nil {
			err = l.dlq.publisher.Publish(ctx, l.dlq.channel, msg.Subject(), data)
		}
		if err != nil {
			// Keep the message redeliverable rather than dropping it when
			// the dead-letter channel itself is down.
			l.logger.Error("dead-letter publish failed, leaving message for redelivery",
				"component", l.name,
				"subject", msg.Subject(),
				"error", err)
			if nakErr := msg.Nak(l.cfg.Backoff.DelayFor(msg.Deliveries() - 1)); nakErr != nil {
				l.logger.Warn("nak failed",
					"component", l.name,
					"subject", msg.Subject(),
					"error", nakErr)
			}
			return
		}
		atomic.AddInt64(&l.deadLettered, 1)
		if l.metrics != nil {
			l.metrics.RecordMessageDeadLettered(l.name)
		}
	}

	if err := msg.Term(); err != nil {
		l.logger.Warn("term failed",
			"component", l.name,
			"subject", msg.Subject(),
			"error", err)
	}
}
