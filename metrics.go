package retrydlq

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type NoOpMetricsCollector struct{}

func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}

func (m *NoOpMetricsCollector) IncrementCounter(name string, tags map[string]string) {}

func (m *NoOpMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
}

func (m *NoOpMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {}

// PrometheusMetricsCollector lazily registers one vector per metric name and
// tag key set. Dots in metric names become underscores.
type PrometheusMetricsCollector struct {
	registerer prometheus.Registerer
	namespace  string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

func NewPrometheusMetricsCollector(registerer prometheus.Registerer) *PrometheusMetricsCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PrometheusMetricsCollector{
		registerer: registerer,
		namespace:  "retrydlq",
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *PrometheusMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	labels := labelNames(tags)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := vectorKey(name, labels)
	counter, exists := m.counters[key]
	if !exists {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name) + "_total",
			Help:      "Counter for " + name,
		}, labels)
		registered, err := register(m.registerer, vec)
		if err != nil {
			return
		}
		counter = registered
		m.counters[key] = counter
	}

	counter.With(prometheus.Labels(tags)).Inc()
}

func (m *PrometheusMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	labels := labelNames(tags)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := vectorKey(name, labels)
	histogram, exists := m.histograms[key]
	if !exists {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name) + "_seconds",
			Help:      "Histogram for " + name,
			Buckets:   prometheus.DefBuckets,
		}, labels)
		registered, err := register(m.registerer, vec)
		if err != nil {
			return
		}
		histogram = registered
		m.histograms[key] = histogram
	}

	histogram.With(prometheus.Labels(tags)).Observe(duration.Seconds())
}

func (m *PrometheusMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	labels := labelNames(tags)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := vectorKey(name, labels)
	gauge, exists := m.gauges[key]
	if !exists {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name),
			Help:      "Gauge for " + name,
		}, labels)
		registered, err := register(m.registerer, vec)
		if err != nil {
			return
		}
		gauge = registered
		m.gauges[key] = gauge
	}

	gauge.With(prometheus.Labels(tags)).Set(value)
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

func vectorKey(name string, labels []string) string {
	return name + "|" + strings.Join(labels, ",")
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

type OpenTelemetryMetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

func NewOpenTelemetryMetricsCollector() *OpenTelemetryMetricsCollector {
	return NewOpenTelemetryMetricsCollectorWithMeter(otel.Meter("retrydlq"))
}

func NewOpenTelemetryMetricsCollectorWithMeter(meter metric.Meter) *OpenTelemetryMetricsCollector {
	return &OpenTelemetryMetricsCollector{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (m *OpenTelemetryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	counter, err := m.getOrCreateCounter(name)
	if err != nil {
		return
	}

	attrs := m.convertTagsToAttributes(tags)
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *OpenTelemetryMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	histogram, err := m.getOrCreateHistogram(name)
	if err != nil {
		return
	}

	attrs := m.convertTagsToAttributes(tags)
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *OpenTelemetryMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	gauge, err := m.getOrCreateGauge(name)
	if err != nil {
		return
	}

	attrs := m.convertTagsToAttributes(tags)
	gauge.Record(context.Background(), value, metric.WithAttributes(attrs...))
}

func (m *OpenTelemetryMetricsCollector) getOrCreateCounter(name string) (metric.Int64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[name]; exists {
		return counter, nil
	}

	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription("Counter for "+name),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.counters[name] = counter
	return counter, nil
}

func (m *OpenTelemetryMetricsCollector) getOrCreateHistogram(name string) (metric.Float64Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[name]; exists {
		return histogram, nil
	}

	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription("Histogram for "+name),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.histograms[name] = histogram
	return histogram, nil
}

func (m *OpenTelemetryMetricsCollector) getOrCreateGauge(name string) (metric.Float64Gauge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[name]; exists {
		return gauge, nil
	}

	gauge, err := m.meter.Float64Gauge(
		name,
		metric.WithDescription("Gauge for "+name),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.gauges[name] = gauge
	return gauge, nil
}

func (m *OpenTelemetryMetricsCollector) convertTagsToAttributes(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}
