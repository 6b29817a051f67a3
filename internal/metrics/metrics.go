// Package metrics holds the Prometheus collectors for the scan pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campus"

// Metrics groups every collector the service exports.
type Metrics struct {
	tokensFramed      *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	listeners         prometheus.Gauge
	broadcasts        prometheus.Counter
	broadcastSkipped  prometheus.Counter
	sourceFailures    *prometheus.CounterVec
	aggregateDuration prometheus.Histogram
	bridgeDisconnects prometheus.Counter
	stationTimeouts   prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		tokensFramed:      counterVec("scan", "tokens_total", "Scan tokens accepted, by source.", "source"),
		resolutions:       counterVec("identity", "resolutions_total", "Identity resolutions, by outcome.", "outcome"),
		transitions:       counterVec("attendance", "transitions_total", "Attendance transitions and rejections.", "kind", "action"),
		listeners:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "fanout", Name: "listeners", Help: "Currently connected scan listeners."}),
		broadcasts:        counter("fanout", "broadcasts_total", "Scan events broadcast to listeners."),
		broadcastSkipped:  counter("fanout", "skipped_total", "Deliveries skipped because the listener was closed or failed."),
		sourceFailures:    counterVec("history", "source_failures_total", "History source queries dropped after failing, by module.", "module"),
		aggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Subsystem: "history", Name: "aggregate_duration_seconds", Help: "Time to build one subject timeline.", Buckets: prometheus.DefBuckets}),
		bridgeDisconnects: counter("bridge", "disconnects_total", "Hardware bridge stream disconnects."),
		stationTimeouts:   counter("station", "timeouts_total", "Scan sessions cancelled because no tag arrived in time."),
	}
	reg.MustRegister(
		m.tokensFramed, m.resolutions, m.transitions, m.listeners, m.broadcasts,
		m.broadcastSkipped, m.sourceFailures, m.aggregateDuration, m.bridgeDisconnects,
		m.stationTimeouts,
	)
	return m
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func (m *Metrics) TokenFramed(source string) {
	if m != nil {
		m.tokensFramed.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Resolution(outcome string) {
	if m != nil {
		m.resolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Transition(kind, action string) {
	if m != nil {
		m.transitions.WithLabelValues(kind, action).Inc()
	}
}

func (m *Metrics) SetListeners(n int) {
	if m != nil {
		m.listeners.Set(float64(n))
	}
}

func (m *Metrics) Broadcast(skipped int) {
	if m != nil {
		m.broadcasts.Inc()
		m.broadcastSkipped.Add(float64(skipped))
	}
}

func (m *Metrics) SourceFailed(module string) {
	if m != nil {
		m.sourceFailures.WithLabelValues(module).Inc()
	}
}

func (m *Metrics) ObserveAggregate(d time.Duration) {
	if m != nil {
		m.aggregateDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) BridgeDisconnected() {
	if m != nil {
		m.bridgeDisconnects.Inc()
	}
}

func (m *Metrics) StationTimeout() {
	if m != nil {
		m.stationTimeouts.Inc()
	}
}
