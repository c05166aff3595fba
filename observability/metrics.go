// Package observability holds the Prometheus instruments for the telemetry
// pipeline itself: what was forwarded, what was dropped, and how many tabs are
// live.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "clicktrail"

// Metrics groups every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// EventsTotal counts tracking calls by event kind and outcome
	// (sent, disabled, invalid, sink, panic).
	EventsTotal *prometheus.CounterVec

	// DeliveriesTotal counts batch deliveries by sink and status (ok, error).
	DeliveriesTotal *prometheus.CounterVec

	// DroppedTotal counts items a sink refused by sink and reason.
	DroppedTotal *prometheus.CounterVec

	// AssignmentsTotal counts experiment and flag lookups by kind and source
	// (cache, computed, default).
	AssignmentsTotal *prometheus.CounterVec

	// ActiveTabs is the number of tabs with a live listener.
	ActiveTabs prometheus.Gauge
}

// NewMetrics creates and registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracker",
			Name:      "events_total",
			Help:      "Tracking calls by event kind and outcome",
		}, []string{"kind", "outcome"}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sink",
			Name:      "deliveries_total",
			Help:      "Batch deliveries by sink and status",
		}, []string{"sink", "status"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Items refused by a sink by reason",
		}, []string{"sink", "reason"}),
		AssignmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "experiment",
			Name:      "assignments_total",
			Help:      "Experiment and feature flag lookups by kind and source",
		}, []string{"kind", "source"}),
		ActiveTabs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "active_tabs",
			Help:      "Tabs with an attached interaction listener",
		}),
	}
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Delivery(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DeliveriesTotal.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) Dropped(sink, reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(sink, reason).Inc()
}

func (m *Metrics) Assignment(kind, source string) {
	if m == nil {
		return
	}
	m.AssignmentsTotal.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) TabOpened() {
	if m == nil {
		return
	}
	m.ActiveTabs.Inc()
}

func (m *Metrics) TabClosed() {
	if m == nil {
		return
	}
	m.ActiveTabs.Dec()
}
