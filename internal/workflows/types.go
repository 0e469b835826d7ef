// Package workflows provides the Temporal workflow that runs a plan durably.
//
// This file contains the types passed between the workflow and its activities.
package workflows

import (
	"time"

	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// DefaultTaskQueue is the task queue used when none is configured.
const DefaultTaskQueue = "plangate"

// PlanWorkflowInput configures one plan run.
type PlanWorkflowInput struct {
	Plan  plan.Plan // The plan to execute
	RunID string    // Run id; the workflow run id is used when empty
}

// PreflightResult describes a plan that passed pre-flight, together with
// the coordinator policy the workflow needs to schedule it.
type PreflightResult struct {
	Agents         []registry.AgentID // Canonical agent per plan index
	WorkerPoolSize int                // Concurrent tasks per stage
	MaxAttempts    int                // Attempts per task
	PerCallTimeout time.Duration      // Bound on each worker and oracle call
	RetryBackoff   time.Duration      // Initial wait between attempts
}

// TaskTimeout bounds one ExecuteTask activity: every attempt may spend a
// full timeout on both the worker and the oracle, plus backoff.
func (r PreflightResult) TaskTimeout() time.Duration {
	attempts := time.Duration(max(r.MaxAttempts, 1))
	backoff := 10 * r.RetryBackoff * (attempts - 1)
	return attempts*2*r.PerCallTimeout + backoff + time.Minute
}

// ExecuteTaskInput defines one task's retry loop.
type ExecuteTaskInput struct {
	RunID string                     // Plan run id
	Index int                        // Position in the plan
	Task  plan.TaskDescriptor        // The task
	Prior []orchestrator.TaskOutcome // Outcomes of earlier stages
}
