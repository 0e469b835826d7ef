package workflows

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/plan"
)

// Activities runs coordinator operations inside Temporal activities.
// Register a pointer with the worker; the workflow refers to the methods
// by name.
type Activities struct {
	Coordinator *orchestrator.Coordinator
}

// NewActivities creates activities backed by c.
func NewActivities(c *orchestrator.Coordinator) *Activities {
	return &Activities{Coordinator: c}
}

// Preflight validates the plan and resolves every agent. No worker is
// invoked. Structural problems are returned as non-retryable errors.
func (a *Activities) Preflight(ctx context.Context, p plan.Plan) (*PreflightResult, error) {
	start := time.Now()
	defer observeActivity(ctx, "preflight", start)
	preflightCounter.Add(ctx, 1)

	agents, err := a.Coordinator.Check(p)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", "preflight")))
		return nil, toActivityError(err)
	}

	cfg := a.Coordinator.Config()
	return &PreflightResult{
		Agents:         agents,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxAttempts:    cfg.MaxAttempts,
		PerCallTimeout: cfg.PerCallTimeout,
		RetryBackoff:   cfg.RetryBackoff,
	}, nil
}

// ExecuteTask runs one task's full retry loop. Quality and execution
// failures are reported in the outcome, not as activity errors.
func (a *Activities) ExecuteTask(ctx context.Context, in ExecuteTaskInput) (*orchestrator.TaskOutcome, error) {
	start := time.Now()
	defer observeActivity(ctx, "execute_task", start)

	if info := activity.GetInfo(ctx); info.Attempt > 1 {
		activity.GetLogger(ctx).Warn("Task activity retried", "index", in.Index, "attempt", info.Attempt)
	}

	outcome, err := a.Coordinator.RunTask(ctx, in.RunID, in.Index, in.Task, in.Prior)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", "execute_task")))
		return nil, toActivityError(err)
	}

	taskActivityCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(outcome.Status)),
		attribute.String("agent", outcome.AgentID),
	))
	return &outcome, nil
}

func observeActivity(ctx context.Context, name string, start time.Time) {
	activityDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("activity", name)))
}
