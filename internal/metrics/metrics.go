// Package metrics holds the Prometheus collectors for plan execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "plangate"

// Metrics holds Prometheus metrics for the coordinator.
//
// All methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	AttemptsTotal    *prometheus.CounterVec
	AttemptDuration  *prometheus.HistogramVec
	OutcomesTotal    *prometheus.CounterVec
	LoopGuardTrips   *prometheus.CounterVec
	EscalationsTotal *prometheus.CounterVec
	StructuralErrors prometheus.Counter
	PlansInFlight    prometheus.Gauge
}

// New creates and registers the collectors on reg.
//
// Metrics:
//   - plangate_attempts_total{agent,result} - worker+oracle rounds by result
//   - plangate_attempt_duration_seconds{agent} - attempt latency
//   - plangate_task_outcomes_total{status,category} - terminal task outcomes
//   - plangate_loop_guard_trips_total{agent} - retry loops broken early
//   - plangate_escalations_total{agent} - tasks escalated for review
//   - plangate_structural_errors_total - plans rejected before execution
//   - plangate_plans_in_flight - plans currently executing
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of task attempts by result",
			},
			[]string{"agent", "result"}, // "approved", "rejected", "execution_error"
		),

		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Duration of a worker call plus validation in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"agent"},
		),

		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_outcomes_total",
				Help:      "Total number of terminal task outcomes",
			},
			[]string{"status", "category"},
		),

		LoopGuardTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_guard_trips_total",
				Help:      "Total number of retry loops stopped on repeated feedback",
			},
			[]string{"agent"},
		),

		EscalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Total number of tasks escalated for human review",
			},
			[]string{"agent"},
		),

		StructuralErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "structural_errors_total",
				Help:      "Total number of plans rejected before execution",
			},
		),

		PlansInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plans_in_flight",
				Help:      "Number of plans currently executing",
			},
		),
	}
}

// ObserveAttempt records one attempt.
func (m *Metrics) ObserveAttempt(agent, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(agent, result).Inc()
	m.AttemptDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// ObserveOutcome records a terminal task outcome.
func (m *Metrics) ObserveOutcome(status, category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "none"
	}
	m.OutcomesTotal.WithLabelValues(status, category).Inc()
}

// LoopGuardTripped records a loop guard trip.
func (m *Metrics) LoopGuardTripped(agent string) {
	if m == nil {
		return
	}
	m.LoopGuardTrips.WithLabelValues(agent).Inc()
}

// Escalated records an escalation.
func (m *Metrics) Escalated(agent string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(agent).Inc()
}

// StructuralError records a rejected plan.
func (m *Metrics) StructuralError() {
	if m == nil {
		return
	}
	m.StructuralErrors.Inc()
}

// PlanStarted increments the in-flight gauge.
func (m *Metrics) PlanStarted() {
	if m == nil {
		return
	}
	m.PlansInFlight.Inc()
}

// PlanFinished decrements the in-flight gauge.
func (m *Metrics) PlanFinished() {
	if m == nil {
		return
	}
	m.PlansInFlight.Dec()
}
