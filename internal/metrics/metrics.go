// Package metrics holds the Prometheus instruments for the control core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes.
const (
	TickEvaluated    = "evaluated"
	TickSkippedBusy  = "skipped_busy"
	TickSkippedEmpty = "skipped_empty"
	TickGatewayError = "gateway_error"
	TickDiscarded    = "discarded"
)

// Metrics holds all custom Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Turns           *prometheus.CounterVec
	TurnErrors      *prometheus.CounterVec
	Ticks           *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	Policies        prometheus.Counter
	DroppedTasks    *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
}

// New registers every metric on a fresh registry (no global state).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_turns_total",
			Help: "Agent turns executed, by role and action",
		}, []string{"role", "action"}),

		TurnErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_turn_errors_total",
			Help: "Agent turns aborted, by error code",
		}, []string{"code"}),

		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_supervisor_ticks_total",
			Help: "Supervisor ticks, by outcome",
		}, []string{"outcome"}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_supervisor_decisions_total",
			Help: "Supervisor decisions emitted, by type and display mode",
		}, []string{"type", "display_mode"}),

		Policies: f.NewCounter(prometheus.CounterOpts{
			Name: "overseer_meta_policies_created_total",
			Help: "Meta-policies learned by the supervisor",
		}),

		DroppedTasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "overseer_background_tasks_dropped_total",
			Help: "Fire-and-forget tasks dropped because the worker queue was full or closed",
		}, []string{"task"}),

		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overseer_gateway_duration_seconds",
			Help:    "Reasoning gateway latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"caller", "status"}),
	}
}

// Registry returns the registry backing these metrics, for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// TurnExecuted counts a completed turn.
func (m *Metrics) TurnExecuted(role, action string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(role, action).Inc()
}

// TurnFailed counts an aborted turn.
func (m *Metrics) TurnFailed(code string) {
	if m == nil {
		return
	}
	m.TurnErrors.WithLabelValues(code).Inc()
}

// Tick counts a supervisor tick outcome.
func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
}

// Decision counts an emitted supervisor decision.
func (m *Metrics) Decision(typ, displayMode string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(typ, displayMode).Inc()
}

// PolicyCreated counts a learned meta-policy.
func (m *Metrics) PolicyCreated() {
	if m == nil {
		return
	}
	m.Policies.Inc()
}

// TaskDropped counts a dropped background task.
func (m *Metrics) TaskDropped(task string) {
	if m == nil {
		return
	}
	m.DroppedTasks.WithLabelValues(task).Inc()
}

// ObserveGateway records one gateway call.
func (m *Metrics) ObserveGateway(caller string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GatewayDuration.WithLabelValues(caller, status).Observe(seconds)
}
