package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/agrostream/errors"
)

// MetricsRegistrar defines the interface for registering stage-specific metrics
type MetricsRegistrar interface {
	RegisterCounter(stageName, metricName string, counter prometheus.Counter) error
	RegisterGauge(stageName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(stageName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(stageName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterHistogramVec(stageName, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(stageName, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core pipeline metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerMetrics()

	// Add Go runtime metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core pipeline metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

func (r *MetricsRegistry) register(key string, collector prometheus.Collector, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", key))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method,
			"failed to register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// RegisterCounter registers a counter metric for a stage
func (r *MetricsRegistry) RegisterCounter(stageName, metricName string, counter prometheus.Counter) error {
	return r.register(fmt.Sprintf("%s.%s", stageName, metricName), counter, "RegisterCounter")
}

// RegisterGauge registers a gauge metric for a stage
func (r *MetricsRegistry) RegisterGauge(stageName, metricName string, gauge prometheus.Gauge) error {
	return r.register(fmt.Sprintf("%s.%s", stageName, metricName), gauge, "RegisterGauge")
}

// RegisterHistogram registers a histogram metric for a stage
func (r *MetricsRegistry) RegisterHistogram(stageName, metricName string, histogram prometheus.Histogram) error {
	return r.register(fmt.Sprintf("%s.%s", stageName, metricName), histogram, "RegisterHistogram")
}

// RegisterCounterVec registers a counter vector metric for a stage
func (r *MetricsRegistry) RegisterCounterVec(stageName, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register(fmt.Sprintf("%s.%s", stageName, metricName), counterVec, "RegisterCounterVec")
}

// RegisterHistogramVec registers a histogram vector metric for a stage
func (r *MetricsRegistry) RegisterHistogramVec(
	stageName, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.register(fmt.Sprintf("%s.%s", stageName, metricName), histogramVec, "RegisterHistogramVec")
}

// Unregister removes a metric from the registry
func (r *MetricsRegistry) Unregister(stageName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", stageName, metricName)

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}

	return success
}

func (r *MetricsRegistry) registerMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.StageStatus,
		r.Metrics.ReadingsIngested,
		r.Metrics.AlertsGenerated,
		r.Metrics.AlertsPersisted,
		r.Metrics.MessagesPoisoned,
		r.Metrics.MessagesRetried,
		r.Metrics.MessagesDeadLetter,
		r.Metrics.ProcessingDuration,
		r.Metrics.ErrorsTotal,
		r.Metrics.NATSConnected,
		r.Metrics.NATSReconnects,
		r.Metrics.NATSCircuitBreaker,
	)
}
