package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

type countingWorker struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, payload map[string]any) (map[string]any, error)
}

func (w *countingWorker) Execute(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	if w.fn != nil {
		return w.fn(ctx, payload)
	}
	return map[string]any{"entity": payload["entity"]}, nil
}

func (w *countingWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func newActivities(t *testing.T, strict bool, oracle orchestrator.Oracle, workers map[registry.AgentID]registry.Worker) *Activities {
	t.Helper()
	reg := registry.New()
	for id, w := range workers {
		require.NoError(t, reg.Bind(string(id), w))
	}
	cfg := orchestrator.DefaultConfig()
	cfg.StrictMode = strict
	cfg.PerCallTimeout = 5 * time.Second
	c, err := orchestrator.New(reg, oracle, cfg)
	require.NoError(t, err)
	return NewActivities(c)
}

func approveAll() orchestrator.Oracle {
	return orchestrator.OracleFunc(func(context.Context, string, string, string, orchestrator.Artifact) (*feedback.Verdict, error) {
		return &feedback.Verdict{IsValid: true, QualityScore: 1}, nil
	})
}

func task(agent, taskType, entity string, priority int) plan.TaskDescriptor {
	return plan.TaskDescriptor{
		AgentID:  agent,
		TaskType: taskType,
		Payload:  map[string]any{"entity": entity},
		Priority: priority,
	}
}

// TestPlanWorkflow tests the durable plan workflow.
func TestPlanWorkflow(t *testing.T) {
	t.Run("runs stages in priority order", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		db := &countingWorker{fn: func(_ context.Context, payload map[string]any) (map[string]any, error) {
			return map[string]any{"entity": payload["entity"], "table": "users"}, nil
		}}
		var seen string
		backend := &countingWorker{fn: func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			if a, ok := orchestrator.PriorArtifact(ctx, "User", "database"); ok {
				seen, _ = a["table"].(string)
			}
			return map[string]any{"entity": payload["entity"]}, nil
		}}

		acts := newActivities(t, false, approveAll(), map[registry.AgentID]registry.Worker{
			registry.Database: db,
			registry.Backend:  backend,
		})
		env.RegisterWorkflow(PlanWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(PlanWorkflow, PlanWorkflowInput{
			RunID: "run-1",
			Plan: plan.Plan{Name: "crud", Tasks: []plan.TaskDescriptor{
				task("api", "gen_api", "User", 1),
				task("db", "gen_schema", "User", 0),
			}},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result orchestrator.PlanExecutionResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Success)
		assert.Equal(t, "run-1", result.RunID)
		assert.Equal(t, "crud", result.PlanName)
		require.Len(t, result.Outcomes, 2)
		assert.Equal(t, 1, result.Outcomes[0].Index)
		assert.Equal(t, "database", result.Outcomes[0].AgentID)
		assert.Equal(t, 0, result.Outcomes[1].Index)
		assert.Equal(t, "backend", result.Outcomes[1].AgentID)
		assert.Equal(t, "users", seen)
		assert.Equal(t, 1, db.Calls())
		assert.Equal(t, 1, backend.Calls())
	})

	t.Run("rejects structural errors without running workers", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		backend := &countingWorker{}
		acts := newActivities(t, false, approveAll(), map[registry.AgentID]registry.Worker{registry.Backend: backend})
		env.RegisterWorkflow(PlanWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(PlanWorkflow, PlanWorkflowInput{
			Plan: plan.Plan{Tasks: []plan.TaskDescriptor{
				task("ghost", "gen_api", "User", 0),
				task("backend", "gen_api", "User", 0),
			}},
		})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.True(t, IsStructural(err))
		assert.Equal(t, []int{0}, StructuralIndices(err))
		assert.Equal(t, 0, backend.Calls())
	})

	t.Run("force-accepts when feedback repeats", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		backend := &countingWorker{}
		oracle := orchestrator.OracleFunc(func(context.Context, string, string, string, orchestrator.Artifact) (*feedback.Verdict, error) {
			return &feedback.Verdict{QualityScore: 0.3, Findings: []feedback.Item{
				{Priority: feedback.PriorityCritical, Issue: "missing field"},
			}}, nil
		})
		acts := newActivities(t, false, oracle, map[registry.AgentID]registry.Worker{registry.Backend: backend})
		env.RegisterWorkflow(PlanWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(PlanWorkflow, PlanWorkflowInput{
			Plan: plan.Plan{Tasks: []plan.TaskDescriptor{task("backend", "gen_model", "X", 0)}},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result orchestrator.PlanExecutionResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Success)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, orchestrator.StatusForceAccepted, result.Outcomes[0].Status)
		assert.Equal(t, orchestrator.CategoryLoopDetected, result.Outcomes[0].FailureCategory)
		assert.Equal(t, 2, backend.Calls())
	})

	t.Run("records activity failures as failed tasks", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		acts := newActivities(t, false, approveAll(), map[registry.AgentID]registry.Worker{
			registry.Backend:  &countingWorker{},
			registry.Frontend: &countingWorker{},
		})
		env.RegisterWorkflow(PlanWorkflow)
		env.RegisterActivity(acts)

		env.OnActivity(acts.ExecuteTask, mock.Anything, mock.MatchedBy(func(in ExecuteTaskInput) bool {
			return in.Index == 0
		})).Return((*orchestrator.TaskOutcome)(nil), errors.New("worker host lost"))
		env.OnActivity(acts.ExecuteTask, mock.Anything, mock.MatchedBy(func(in ExecuteTaskInput) bool {
			return in.Index != 0
		})).Return(acts.ExecuteTask)

		env.ExecuteWorkflow(PlanWorkflow, PlanWorkflowInput{
			Plan: plan.Plan{Tasks: []plan.TaskDescriptor{
				task("backend", "gen_api", "User", 0),
				task("frontend", "gen_page", "User", 1),
			}},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result orchestrator.PlanExecutionResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.False(t, result.Success)
		require.Len(t, result.Outcomes, 2)

		failed := result.Outcomes[0]
		assert.Equal(t, orchestrator.StatusFailed, failed.Status)
		assert.Equal(t, orchestrator.CategoryExecution, failed.FailureCategory)
		assert.Equal(t, "backend", failed.AgentID)
		assert.Contains(t, failed.Error, "worker host lost")

		assert.Equal(t, orchestrator.StatusSucceeded, result.Outcomes[1].Status)
	})
}

func TestPreflightActivity(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()

	acts := newActivities(t, true, approveAll(), map[registry.AgentID]registry.Worker{registry.Database: &countingWorker{}})
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.Preflight, plan.Plan{Tasks: []plan.TaskDescriptor{task("schema", "gen_schema", "User", 0)}})
	require.NoError(t, err)

	var pre PreflightResult
	require.NoError(t, val.Get(&pre))
	assert.Equal(t, []registry.AgentID{registry.Database}, pre.Agents)
	assert.Equal(t, 4, pre.WorkerPoolSize)
	assert.Equal(t, 3, pre.MaxAttempts)

	_, err = env.ExecuteActivity(acts.Preflight, plan.Plan{Tasks: []plan.TaskDescriptor{{AgentID: "db"}}})
	require.Error(t, err)
	assert.True(t, IsStructural(err))
}

func TestPreflightResult_TaskTimeout(t *testing.T) {
	pre := PreflightResult{MaxAttempts: 3, PerCallTimeout: time.Minute}
	assert.Equal(t, 7*time.Minute, pre.TaskTimeout())

	pre.RetryBackoff = time.Second
	assert.Equal(t, 7*time.Minute+20*time.Second, pre.TaskTimeout())
}

func TestWorkflowError(t *testing.T) {
	base := errors.New("boom")
	err := NewWorkflowError("execute_task", ErrorSeverityHigh, base, "task 2")
	assert.Equal(t, "execute_task failed: boom (task 2)", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "preflight failed: boom", NewWorkflowError("preflight", ErrorSeverityCritical, base, "").Error())
}
