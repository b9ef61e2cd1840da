// Package metrics exposes Prometheus instruments for the relay core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes
const (
	DeliveryOK      = "ok"
	DeliveryDropped = "dropped"
	DeliveryUnknown = "unknown"
)

// Event outcomes
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeIgnored  = "ignored"
	OutcomePanic    = "panic"
)

// Metrics holds the collectors for one registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal        *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	sessions           *prometheus.GaugeVec
	groups             *prometheus.GaugeVec
	presenceDemotions  *prometheus.CounterVec
	presenceSweepTimes *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "events_total",
			Help:      "Inbound events handled by the lifecycle controller",
		}, []string{"mode", "kind", "outcome"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Outbound event deliveries by outcome",
		}, []string{"mode", "event", "outcome"}),
		sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "sessions",
			Help:      "Live sessions",
		}, []string{"mode"}),
		groups: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "groups",
			Help:      "Non-empty groups",
		}, []string{"mode"}),
		presenceDemotions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "presence_demotions_total",
			Help:      "Sessions reclassified as idle",
		}, []string{"mode"}),
		presenceSweepTimes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "presence_sweep_duration_seconds",
			Help:      "Duration of presence sweeps",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"mode"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Event(mode, kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(mode, kind, outcome).Inc()
}

func (m *Metrics) Delivery(mode, event, outcome string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(mode, event, outcome).Inc()
}

func (m *Metrics) SetPopulation(mode string, sessions, groups int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(mode).Set(float64(sessions))
	m.groups.WithLabelValues(mode).Set(float64(groups))
}

func (m *Metrics) Sweep(mode string, seconds float64, demoted int) {
	if m == nil {
		return
	}
	m.presenceSweepTimes.WithLabelValues(mode).Observe(seconds)
	if demoted > 0 {
		m.presenceDemotions.WithLabelValues(mode).Add(float64(demoted))
	}
}
