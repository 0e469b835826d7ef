package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAttempt("backend", "rejected", 150*time.Millisecond)
	m.ObserveOutcome("failed", "execution")
	m.LoopGuardTripped("backend")
	m.Escalated("backend")
	m.StructuralError()
	m.PlanStarted()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"plangate_attempts_total",
		"plangate_attempt_duration_seconds",
		"plangate_task_outcomes_total",
		"plangate_loop_guard_trips_total",
		"plangate_escalations_total",
		"plangate_structural_errors_total",
		"plangate_plans_in_flight",
	} {
		assert.True(t, names[want], want)
	}
}

func TestMetrics_Values(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAttempt("backend", "approved", time.Second)
	m.ObserveAttempt("backend", "approved", time.Second)
	m.ObserveAttempt("database", "rejected", time.Second)
	m.ObserveOutcome("succeeded", "")
	m.PlanStarted()
	m.PlanStarted()
	m.PlanFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("backend", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("database", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("succeeded", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlansInFlight))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("backend", "approved", time.Second)
		m.ObserveOutcome("succeeded", "")
		m.LoopGuardTripped("backend")
		m.Escalated("backend")
		m.StructuralError()
		m.PlanStarted()
		m.PlanFinished()
	})
}
