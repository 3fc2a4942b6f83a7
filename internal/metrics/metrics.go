// Package metrics provides Prometheus metrics for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	ActionsTotal    *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	OracleCalls     *prometheus.CounterVec
	StoreCalls      *prometheus.CounterVec
	PendingSessions prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideabot_events_total",
				Help: "Inbound events by gateway and kind.",
			},
			[]string{"source", "kind"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideabot_actions_total",
				Help: "Resolved actions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ideabot_action_duration_seconds",
				Help:    "Time from inbound event to rendered result, by action.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		OracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideabot_oracle_calls_total",
				Help: "Language model calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		StoreCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideabot_store_calls_total",
				Help: "Record store calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		PendingSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ideabot_pending_sessions",
				Help: "Open disambiguation sessions.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideabot_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.ActionDuration)
	reg.MustRegister(m.OracleCalls)
	reg.MustRegister(m.StoreCalls)
	reg.MustRegister(m.PendingSessions)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEvent counts one inbound event.
func (m *Metrics) RecordEvent(source, kind string) {
	m.EventsTotal.WithLabelValues(source, kind).Inc()
}

// RecordAction counts one resolved action and observes its latency.
func (m *Metrics) RecordAction(action, outcome string, seconds float64) {
	m.ActionsTotal.WithLabelValues(action, outcome).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

// RecordOracleCall counts one language model call.
func (m *Metrics) RecordOracleCall(op string, err error) {
	m.OracleCalls.WithLabelValues(op, result(err)).Inc()
}

// RecordStoreCall counts one record store call.
func (m *Metrics) RecordStoreCall(op string, err error) {
	m.StoreCalls.WithLabelValues(op, result(err)).Inc()
}

// SetPendingSessions sets the open-session gauge.
func (m *Metrics) SetPendingSessions(n int) {
	m.PendingSessions.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
