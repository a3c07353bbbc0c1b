// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authguard.
//
// go-authguard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Adapter backed by a Prometheus registry.
// Metrics are registered lazily on first use; the label set of a metric is
// fixed by its first recording.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	timers   map[string]*prometheus.HistogramVec
	labels   map[string][]string
}

// NewPrometheusMetrics creates a Prometheus-backed metrics adapter. If
// registry is nil a private registry is created; expose it via
// promhttp.HandlerFor.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusMetrics{
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
		timers:   make(map[string]*prometheus.HistogramVec),
		labels:   make(map[string][]string),
	}
}

// Registry returns the underlying Prometheus registry for exposition.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCounter increments a counter metric by 1
func (m *PrometheusMetrics) RecordCounter(ctx context.Context, name string, tags map[string]string) error {
	return m.RecordCounterWithValue(ctx, name, 1, tags)
}

// RecordCounterWithValue increments a counter metric by a specific value
func (m *PrometheusMetrics) RecordCounterWithValue(ctx context.Context, name string, value int64, tags map[string]string) error {
	m.mu.Lock()
	promName := promName(name)
	vec, ok := m.counters[promName]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: promName,
			Help: name,
		}, m.labelNames(promName, tags))
		if err := m.registry.Register(vec); err != nil {
			m.mu.Unlock()
			return err
		}
		m.counters[promName] = vec
	}
	labels := m.labelValues(promName, tags)
	m.mu.Unlock()

	vec.With(labels).Add(float64(value))
	return nil
}

// RecordGauge sets a gauge metric to a specific value
func (m *PrometheusMetrics) RecordGauge(ctx context.Context, name string, value float64, tags map[string]string) error {
	m.mu.Lock()
	promName := promName(name)
	vec, ok := m.gauges[promName]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: promName,
			Help: name,
		}, m.labelNames(promName, tags))
		if err := m.registry.Register(vec); err != nil {
			m.mu.Unlock()
			return err
		}
		m.gauges[promName] = vec
	}
	labels := m.labelValues(promName, tags)
	m.mu.Unlock()

	vec.With(labels).Set(value)
	return nil
}

// RecordTimer records an operation duration in seconds into a histogram
func (m *PrometheusMetrics) RecordTimer(ctx context.Context, name string, duration time.Duration, tags map[string]string) error {
	m.mu.Lock()
	promName := promName(name)
	vec, ok := m.timers[promName]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    promName + "_seconds",
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, m.labelNames(promName, tags))
		if err := m.registry.Register(vec); err != nil {
			m.mu.Unlock()
			return err
		}
		m.timers[promName] = vec
	}
	labels := m.labelValues(promName, tags)
	m.mu.Unlock()

	vec.With(labels).Observe(duration.Seconds())
	return nil
}

// Name returns the metrics adapter name
func (m *PrometheusMetrics) Name() string {
	return "prometheus"
}

// labelNames fixes the label set for a metric at first use. Callers must
// hold the mutex.
func (m *PrometheusMetrics) labelNames(promName string, tags map[string]string) []string {
	if names, ok := m.labels[promName]; ok {
		return names
	}
	names := make([]string, 0, len(tags))
	for key := range tags {
		names = append(names, key)
	}
	sort.Strings(names)
	m.labels[promName] = names
	return names
}

// labelValues builds the label map against the metric's fixed label set,
// filling absent tags with an empty value. Callers must hold the mutex.
func (m *PrometheusMetrics) labelValues(promName string, tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(m.labels[promName]))
	for _, key := range m.labels[promName] {
		labels[key] = tags[key]
	}
	return labels
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
