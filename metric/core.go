// Package metric provides the Prometheus metrics registry shared by the
// pipeline stages. Core pipeline metrics are registered up front; stages
// register their own metrics through the MetricsRegistrar interface.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline-level metrics every stage reports into.
type Metrics struct {
	// Stage metrics
	StageStatus        *prometheus.GaugeVec
	ReadingsIngested   *prometheus.CounterVec
	AlertsGenerated    *prometheus.CounterVec
	AlertsPersisted    *prometheus.CounterVec
	MessagesPoisoned   *prometheus.CounterVec
	MessagesRetried    *prometheus.CounterVec
	MessagesDeadLetter *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		StageStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agrostream",
				Subsystem: "stage",
				Name:      "status",
				Help:      "Stage status (0=stopped, 1=starting, 2=running, 3=stopping)",
			},
			[]string{"stage"},
		),

		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "readings",
				Name:      "ingested_total",
				Help:      "Total number of readings accepted by the ingestion writer",
			},
			[]string{"status"},
		),

		AlertsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "alerts",
				Name:      "generated_total",
				Help:      "Total number of alerts generated by rule evaluation",
			},
			[]string{"rule"},
		),

		AlertsPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "alerts",
				Name:      "persisted_total",
				Help:      "Total number of alert inserts, by outcome",
			},
			[]string{"status"},
		),

		MessagesPoisoned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "messages",
				Name:      "poisoned_total",
				Help:      "Total number of undecodable or invalid messages dead-ended",
			},
			[]string{"stage"},
		),

		MessagesRetried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "messages",
				Name:      "retried_total",
				Help:      "Total number of deliveries scheduled for redelivery",
			},
			[]string{"stage"},
		),

		MessagesDeadLetter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "messages",
				Name:      "dead_lettered_total",
				Help:      "Total number of messages routed to the dead-letter channel",
			},
			[]string{"stage"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agrostream",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"stage", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agrostream",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agrostream",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agrostream",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordStageStatus updates the stage status metric
func (c *Metrics) RecordStageStatus(stage string, status int) {
	c.StageStatus.WithLabelValues(stage).Set(float64(status))
}

// RecordReadingIngested increments the ingestion counter
func (c *Metrics) RecordReadingIngested(status string) {
	c.ReadingsIngested.WithLabelValues(status).Inc()
}

// RecordAlertGenerated increments the generated alert counter
func (c *Metrics) RecordAlertGenerated(rule string) {
	c.AlertsGenerated.WithLabelValues(rule).Inc()
}

// RecordAlertPersisted increments the persisted alert counter
func (c *Metrics) RecordAlertPersisted(status string) {
	c.AlertsPersisted.WithLabelValues(status).Inc()
}

// RecordMessagePoisoned increments the poison message counter
func (c *Metrics) RecordMessagePoisoned(stage string) {
	c.MessagesPoisoned.WithLabelValues(stage).Inc()
}

// RecordMessageRetried increments the redelivery counter
func (c *Metrics) RecordMessageRetried(stage string) {
	c.MessagesRetried.WithLabelValues(stage).Inc()
}

// RecordMessageDeadLettered increments the dead-letter counter
func (c *Metrics) RecordMessageDeadLettered(stage string) {
	c.MessagesDeadLetter.WithLabelValues(stage).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(stage, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(stage, operation).Observe(duration.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(stage, errorType string) {
	c.ErrorsTotal.WithLabelValues(stage, errorType).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
