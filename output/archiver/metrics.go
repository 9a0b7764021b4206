package archiver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agrostream/metric"
)

// archiverMetrics holds Prometheus metrics for alert persistence.
type archiverMetrics struct {
	persisted       *prometheus.CounterVec // by status (inserted/duplicate/invalid/error)
	persistDuration prometheus.Histogram
}

// newArchiverMetrics creates and registers archiver metrics with the provided registry.
func newArchiverMetrics(registry *metric.MetricsRegistry) (*archiverMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &archiverMetrics{
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrostream",
			Subsystem: "archiver",
			Name:      "alerts_persisted_total",
			Help:      "Total number of alert insert attempts, by outcome",
		}, []string{"status"}),

		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agrostream",
			Subsystem: "archiver",
			Name:      "persist_duration_seconds",
			Help:      "Alert insert duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if err := registry.RegisterCounterVec("archiver", "alerts_persisted", m.persisted); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("archiver", "persist_duration", m.persistDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// recordPersist records one insert attempt.
func (m *archiverMetrics) recordPersist(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues(status).Inc()
	m.persistDuration.Observe(duration.Seconds())
}
