package alerter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agrostream/metric"
)

// alerterMetrics holds Prometheus metrics for rule evaluation.
type alerterMetrics struct {
	readingsEvaluated  *prometheus.CounterVec // by status (fired/no_alert)
	alertsPublished    *prometheus.CounterVec // by rule
	errors             *prometheus.CounterVec // by error_type
	evaluationDuration prometheus.Histogram
}

// newAlerterMetrics creates and registers alerter metrics with the provided registry.
func newAlerterMetrics(registry *metric.MetricsRegistry) (*alerterMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &alerterMetrics{
		readingsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrostream",
			Subsystem: "alerter",
			Name:      "readings_evaluated_total",
			Help:      "Total number of readings evaluated against the alert rules",
		}, []string{"status"}),

		alertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrostream",
			Subsystem: "alerter",
			Name:      "alerts_published_total",
			Help:      "Total number of alerts published to the alerts channel",
		}, []string{"rule"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrostream",
			Subsystem: "alerter",
			Name:      "errors_total",
			Help:      "Total number of alerter processing errors",
		}, []string{"error_type"}),

		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agrostream",
			Subsystem: "alerter",
			Name:      "evaluation_duration_seconds",
			Help:      "Rule evaluation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	if err := registry.RegisterCounterVec("alerter", "readings_evaluated", m.readingsEvaluated); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("alerter", "alerts_published", m.alertsPublished); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("alerter", "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("alerter", "evaluation_duration", m.evaluationDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// recordEvaluation records one rule evaluation.
func (m *alerterMetrics) recordEvaluation(fired bool, duration time.Duration) {
	if m == nil {
		return
	}

	status := "no_alert"
	if fired {
		status = "fired"
	}
	m.readingsEvaluated.WithLabelValues(status).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// recordAlert records one published alert.
func (m *alerterMetrics) recordAlert(rule string) {
	if m == nil {
		return
	}
	m.alertsPublished.WithLabelValues(rule).Inc()
}

// recordError records an alerter processing error.
func (m *alerterMetrics) recordError(errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType).Inc()
}
