// Package metrics exports the process-wide Prometheus instrumentation for
// the simulation engine. One Metrics value is built at startup and threaded
// into the executor, the services and the plugin registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options supplies the live-value callbacks the gauge collectors poll at
// scrape time. A nil callback leaves its gauge unregistered.
type Options struct {
	// WSClients reports connected WebSocket clients.
	WSClients func() int
	// ActiveAgents reports agents currently marked active.
	ActiveAgents func() int
	// ActiveSessions reports sessions that started and are not yet terminal.
	ActiveSessions func() int
}

// Metrics bundles every collector strata exports. All record helpers are
// safe on a nil receiver so instrumentation stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	simulations *prometheus.CounterVec
	stageExecs  *prometheus.CounterVec
	stageTime   *prometheus.HistogramVec
	violations  *prometheus.CounterVec
	kaCalls     *prometheus.CounterVec
}

// New builds a self-contained registry holding all strata collectors.
func New(opts Options) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		simulations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_simulations_total",
			Help: "Finished simulation runs by terminal status.",
		}, []string{"status"}),
		stageExecs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_stage_executions_total",
			Help: "Stage executions by stage number and layer status.",
		}, []string{"stage", "status"}),
		stageTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strata_stage_duration_seconds",
			Help:    "Wall-clock duration of one stage execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_compliance_violations_total",
			Help: "Compliance violations by severity.",
		}, []string{"severity"}),
		kaCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_ka_calls_total",
			Help: "Knowledge-algorithm dispatches by plugin and outcome.",
		}, []string{"ka", "status"}),
	}

	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(fn())
		})
	}
	gauge("strata_ws_clients", "Connected WebSocket clients.", opts.WSClients)
	gauge("strata_active_agents", "Agents currently active.", opts.ActiveAgents)
	gauge("strata_sessions_active", "Sessions started and not yet terminal.", opts.ActiveSessions)

	return m
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSimulation counts one run reaching a terminal status.
func (m *Metrics) RecordSimulation(status string) {
	if m == nil {
		return
	}
	m.simulations.WithLabelValues(status).Inc()
}

// RecordStage counts one stage execution and observes its duration.
func (m *Metrics) RecordStage(stage int, status string, d time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(stage)
	m.stageExecs.WithLabelValues(label, status).Inc()
	m.stageTime.WithLabelValues(label).Observe(d.Seconds())
}

// RecordViolation counts one compliance violation.
func (m *Metrics) RecordViolation(severity string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(severity).Inc()
}

// RecordKACall counts one plugin dispatch.
func (m *Metrics) RecordKACall(name string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "crashed"
	}
	m.kaCalls.WithLabelValues(name, status).Inc()
}
