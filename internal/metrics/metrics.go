// Package metrics exposes Prometheus instrumentation for connection probes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reaper"

// Probe results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	probeTotal    *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	connections   *prometheus.GaugeVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_total",
				Help:      "Total number of connection probes by type and result",
			},
			[]string{"type", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of connection probes in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"type"},
		),
		connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Number of enabled connections by type and status after the last health sweep",
			},
			[]string{"type", "status"},
		),
	}
	m.registry.MustRegister(
		m.probeTotal,
		m.probeDuration,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveProbe records one probe outcome. A nil Metrics is a no-op.
func (m *Metrics) ObserveProbe(connType string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	m.probeTotal.WithLabelValues(connType, result).Inc()
	m.probeDuration.WithLabelValues(connType).Observe(d.Seconds())
}

// SetConnectionCounts replaces the connections gauge with counts keyed by
// type then status.
func (m *Metrics) SetConnectionCounts(counts map[string]map[string]int) {
	if m == nil {
		return
	}
	m.connections.Reset()
	for typ, byStatus := range counts {
		for status, n := range byStatus {
			m.connections.WithLabelValues(typ, status).Set(float64(n))
		}
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
