package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// fakeWorker records every call and delegates to fn when set.
type fakeWorker struct {
	mu       sync.Mutex
	calls    int
	payloads []map[string]any
	fn       func(ctx context.Context, call int, payload map[string]any) (Artifact, error)

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (w *fakeWorker) Execute(ctx context.Context, taskType string, payload map[string]any) (map[string]any, error) {
	n := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		cur := w.maxActive.Load()
		if n <= cur || w.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	w.mu.Lock()
	w.calls++
	call := w.calls
	w.payloads = append(w.payloads, payload)
	w.mu.Unlock()

	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	if w.fn != nil {
		return w.fn(ctx, call, payload)
	}
	return Artifact{"entity": payload["entity"], "code": "generated", "task_type": taskType}, nil
}

func (w *fakeWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *fakeWorker) Payload(i int) map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.payloads[i]
}

// scriptedOracle returns verdicts in order, repeating the last one.
type scriptedOracle struct {
	mu       sync.Mutex
	verdicts []*feedback.Verdict
	calls    int
}

func newScriptedOracle(verdicts ...*feedback.Verdict) *scriptedOracle {
	return &scriptedOracle{verdicts: verdicts}
}

func (o *scriptedOracle) Validate(_ context.Context, _, _, _ string, _ Artifact) (*feedback.Verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.calls
	o.calls++
	if i >= len(o.verdicts) {
		i = len(o.verdicts) - 1
	}
	return o.verdicts[i], nil
}

func approve() *feedback.Verdict {
	return &feedback.Verdict{IsValid: true, QualityScore: 0.9}
}

func reject(score float64, items ...feedback.Item) *feedback.Verdict {
	return &feedback.Verdict{IsValid: false, QualityScore: score, Summary: "needs work", Findings: items}
}

func critical(issue, fix string) feedback.Item {
	return feedback.Item{Priority: feedback.PriorityCritical, Issue: issue, Fix: fix}
}

// MockRecorder is a mock implementation of Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordAttempt(ctx context.Context, event AttemptEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockRecorder) RecordOutcome(ctx context.Context, runID string, outcome TaskOutcome) error {
	args := m.Called(ctx, runID, outcome)
	return args.Error(0)
}

func (m *MockRecorder) RecordResult(ctx context.Context, result *PlanExecutionResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PerCallTimeout = 2 * time.Second
	return cfg
}

func newTestCoordinator(t *testing.T, cfg Config, oracle Oracle, workers map[registry.AgentID]Worker, opts ...Option) *Coordinator {
	t.Helper()
	reg := registry.New()
	for id, w := range workers {
		require.NoError(t, reg.Bind(string(id), w))
	}
	c, err := New(reg, oracle, cfg, opts...)
	require.NoError(t, err)
	return c
}

func task(agent, taskType, entity string, priority int) plan.TaskDescriptor {
	return plan.TaskDescriptor{
		AgentID:  agent,
		TaskType: taskType,
		Payload:  map[string]any{plan.EntityKey: entity},
		Priority: priority,
	}
}
