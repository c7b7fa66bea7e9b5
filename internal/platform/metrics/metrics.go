// Package metrics exposes Prometheus collectors for the data-access layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinicdata"

type Metrics struct {
	degradedCalls   *prometheus.CounterVec
	realtimeEvents  *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	activeListeners *prometheus.GaugeVec
	gatherer        prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		degradedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_calls_total",
			Help:      "Data-access calls that failed and returned a fallback value.",
		}, []string{"op", "table"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Row-change notifications received per table.",
		}, []string{"table"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Change listener reconnect attempts per table.",
		}, []string{"table"}),
		activeListeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_active_listeners",
			Help:      "Backend change listeners currently open per table.",
		}, []string{"table"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.degradedCalls,
		m.realtimeEvents,
		m.reconnects,
		m.activeListeners,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Degraded(op, table string) {
	if m == nil {
		return
	}
	m.degradedCalls.WithLabelValues(op, table).Inc()
}

func (m *Metrics) RealtimeEvent(table string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(table).Inc()
}

func (m *Metrics) Reconnect(table string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(table).Inc()
}

func (m *Metrics) ListenerOpened(table string) {
	if m == nil {
		return
	}
	m.activeListeners.WithLabelValues(table).Inc()
}

func (m *Metrics) ListenerClosed(table string) {
	if m == nil {
		return
	}
	m.activeListeners.WithLabelValues(table).Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
