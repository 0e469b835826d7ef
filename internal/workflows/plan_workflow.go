package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/plan"
)

// PlanWorkflow executes a plan durably.
//
// This workflow:
// 1. Runs pre-flight validation and agent resolution as one activity
// 2. Walks the plan stage by stage in priority order
// 3. Runs each task's retry loop as one activity, bounded by the worker pool
// 4. Returns the aggregated result
//
// Temporal retries are disabled for task activities: the coordinator owns
// the retry budget, and re-running a task would spend it twice. Tasks that
// share a retry key run serially within their stage.
func PlanWorkflow(ctx workflow.Context, input PlanWorkflowInput) (*orchestrator.PlanExecutionResult, error) {
	logger := workflow.GetLogger(ctx)

	runID := input.RunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}
	logger.Info("Starting plan workflow", "run_id", runID, "plan", input.Plan.Name, "tasks", input.Plan.Len())

	result := &orchestrator.PlanExecutionResult{
		RunID:     runID,
		PlanName:  input.Plan.Name,
		Outcomes:  make([]orchestrator.TaskOutcome, 0, input.Plan.Len()),
		StartedAt: workflow.Now(ctx),
	}

	// Step 1: Pre-flight
	preflightCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	var a *Activities
	var pre PreflightResult
	if err := workflow.ExecuteActivity(preflightCtx, a.Preflight, input.Plan).Get(ctx, &pre); err != nil {
		logger.Error("Plan rejected", "error", err)
		return nil, NewWorkflowError("preflight", ErrorSeverityCritical, err, "")
	}

	// Step 2: Stages in priority order
	taskCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: pre.TaskTimeout(),
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	pool := max(pre.WorkerPoolSize, 1)

	stages := input.Plan.Stages()
	for i, stage := range stages {
		if ctx.Err() != nil {
			break
		}
		logger.Debug("Dispatching stage", "stage", i, "priority", stage[0].Task.Priority, "tasks", len(stage))

		prior := append([]orchestrator.TaskOutcome(nil), result.Outcomes...)
		outcomes, err := runStage(taskCtx, runID, pool, stage, pre, prior)
		result.Outcomes = append(result.Outcomes, outcomes...)
		if err != nil {
			return nil, err
		}
	}

	// Step 3: Aggregate
	result.CompletedAt = workflow.Now(ctx)
	result.Canceled = ctx.Err() != nil
	result.Success = !result.Canceled && len(result.Outcomes) == input.Plan.Len() && allAccepted(result.Outcomes)

	counts := result.Counts()
	logger.Info("Plan workflow completed",
		"success", result.Success,
		"canceled", result.Canceled,
		"succeeded", counts[orchestrator.StatusSucceeded],
		"force_accepted", counts[orchestrator.StatusForceAccepted],
		"escalated", counts[orchestrator.StatusEscalated],
		"failed", counts[orchestrator.StatusFailed],
	)

	if result.Canceled {
		return result, ctx.Err()
	}
	return result, nil
}

// runStage runs one stage with at most pool key groups in flight. A
// buffered channel holds one token per running group.
func runStage(ctx workflow.Context, runID string, pool int, stage []plan.IndexedTask, pre PreflightResult, prior []orchestrator.TaskOutcome) ([]orchestrator.TaskOutcome, error) {
	logger := workflow.GetLogger(ctx)

	slots := make([]*orchestrator.TaskOutcome, len(stage))
	position := make(map[int]int, len(stage))
	for pos, it := range stage {
		position[it.Index] = pos
	}

	var structural error
	tokens := workflow.NewBufferedChannel(ctx, pool)
	wg := workflow.NewWaitGroup(ctx)

	for _, group := range orchestrator.GroupByKey(stage, pre.Agents) {
		if ctx.Err() != nil {
			break
		}
		tokens.Send(ctx, struct{}{})
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			defer tokens.Receive(gctx, nil)

			for _, it := range group {
				if gctx.Err() != nil || structural != nil {
					return
				}
				outcome, err := executeTask(gctx, runID, it, pre, prior)
				if err != nil {
					logger.Error("Task activity failed", "index", it.Index, "error", err)
					structural = err
					return
				}
				slots[position[it.Index]] = outcome
			}
		})
	}
	wg.Wait(ctx)

	outcomes := make([]orchestrator.TaskOutcome, 0, len(stage))
	for _, o := range slots {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes, structural
}

// executeTask runs one task activity. Activity failures other than
// structural rejections become failed outcomes; structural rejections are
// returned and fail the workflow.
func executeTask(ctx workflow.Context, runID string, it plan.IndexedTask, pre PreflightResult, prior []orchestrator.TaskOutcome) (*orchestrator.TaskOutcome, error) {
	var a *Activities
	var outcome orchestrator.TaskOutcome

	started := workflow.Now(ctx)
	err := workflow.ExecuteActivity(ctx, a.ExecuteTask, ExecuteTaskInput{
		RunID: runID,
		Index: it.Index,
		Task:  it.Task,
		Prior: prior,
	}).Get(ctx, &outcome)
	if err == nil {
		return &outcome, nil
	}
	if IsStructural(err) {
		return nil, NewWorkflowError("execute_task", ErrorSeverityCritical, err, fmt.Sprintf("task %d", it.Index))
	}

	category := orchestrator.CategoryExecution
	var canceled *temporal.CanceledError
	if errors.As(err, &canceled) || ctx.Err() != nil {
		category = orchestrator.CategoryCanceled
	}

	return &orchestrator.TaskOutcome{
		Index:           it.Index,
		AgentID:         string(pre.Agents[it.Index]),
		TaskType:        it.Task.TaskType,
		Entity:          it.Task.Entity(it.Index),
		Status:          orchestrator.StatusFailed,
		FailureCategory: category,
		Error:           NewWorkflowError("execute_task", ErrorSeverityHigh, err, fmt.Sprintf("task %d", it.Index)).Error(),
		StartedAt:       started,
		CompletedAt:     workflow.Now(ctx),
	}, nil
}

func allAccepted(outcomes []orchestrator.TaskOutcome) bool {
	for _, o := range outcomes {
		if !o.Status.Accepted() {
			return false
		}
	}
	return true
}
