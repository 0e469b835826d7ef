package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/plangate/internal/escalation"
	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/registry"
	"github.com/fyrsmithlabs/plangate/internal/retry"
)

// Artifact is the opaque output of a worker.
type Artifact = map[string]any

// Worker produces an artifact for a task type.
type Worker = registry.Worker

// Resolver maps a declared agent id to a worker and its canonical id.
// *registry.Registry satisfies it.
type Resolver interface {
	Resolve(agentID string) (Worker, registry.AgentID, error)
}

// Oracle judges an artifact. Verdicts are normalized by the coordinator,
// so scores outside [0,1] and unknown priorities are tolerated.
type Oracle interface {
	Validate(ctx context.Context, entity, agentID, taskType string, artifact Artifact) (*feedback.Verdict, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, entity, agentID, taskType string, artifact Artifact) (*feedback.Verdict, error)

// Validate calls f.
func (f OracleFunc) Validate(ctx context.Context, entity, agentID, taskType string, artifact Artifact) (*feedback.Verdict, error) {
	return f(ctx, entity, agentID, taskType, artifact)
}

// Status is the terminal outcome of a task.
type Status string

const (
	StatusSucceeded     Status = "succeeded"
	StatusForceAccepted Status = "force_accepted"
	StatusEscalated     Status = "escalated"
	StatusFailed        Status = "failed"
)

// Accepted reports whether the status counts toward plan success.
func (s Status) Accepted() bool {
	return s == StatusSucceeded || s == StatusForceAccepted
}

// Category explains why a task or plan did not succeed cleanly.
type Category string

const (
	// CategoryStructural is a malformed plan or an unknown agent
	CategoryStructural Category = "structural"

	// CategoryQuality is an attempt the oracle rejected
	CategoryQuality Category = "quality"

	// CategoryExecution is a worker or oracle error, panic or timeout
	CategoryExecution Category = "execution"

	// CategoryExhausted is a retry budget spent while still invalid
	CategoryExhausted Category = "exhausted"

	// CategoryLoopDetected is a retry loop stopped on repeated feedback
	CategoryLoopDetected Category = "loop_detected"

	// CategoryCanceled is a retry loop stopped by plan cancellation
	CategoryCanceled Category = "canceled"
)

// State is a task's position in the coordinator state machine.
type State string

const (
	StatePending       State = "pending"
	StateRunning       State = "running"
	StateValidating    State = "validating"
	StateRetrying      State = "retrying"
	StateApproved      State = "approved"
	StateForceAccepted State = "force_accepted"
	StateEscalated     State = "escalated"
	StateFailed        State = "failed"
)

var transitions = map[State][]State{
	StatePending:    {StateRunning},
	StateRunning:    {StateValidating, StateRetrying, StateFailed},
	StateValidating: {StateApproved, StateRetrying, StateForceAccepted, StateEscalated, StateFailed},
	StateRetrying:   {StateRunning, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition checks that s may move to next.
func (s State) CanTransition(next State) error {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("invalid task transition from %s to %s", s, next)
}

// TaskOutcome is the result of one task.
type TaskOutcome struct {
	Index    int    `json:"index"`
	AgentID  string `json:"agent_id"`
	TaskType string `json:"task_type"`
	Entity   string `json:"entity"`

	Status          Status   `json:"status"`
	FailureCategory Category `json:"failure_category,omitempty"`

	// Artifact is the accepted artifact; nil for escalated and failed tasks.
	Artifact     Artifact              `json:"artifact,omitempty"`
	QualityScore float64               `json:"quality_score"`
	Feedback     *feedback.Categorized `json:"feedback,omitempty"`
	Attempts     []retry.Attempt       `json:"attempts"`

	UnresolvedIssues  []feedback.Item    `json:"unresolved_issues,omitempty"`
	ForceAcceptReason string             `json:"force_accept_reason,omitempty"`
	Escalation        *escalation.Report `json:"escalation,omitempty"`
	LoopGuardTripped  bool               `json:"loop_guard_tripped,omitempty"`
	Error             string             `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// PlanExecutionResult aggregates the outcomes of one plan run, in execution order.
type PlanExecutionResult struct {
	RunID       string        `json:"run_id"`
	PlanName    string        `json:"plan_name,omitempty"`
	Outcomes    []TaskOutcome `json:"outcomes"`
	Success     bool          `json:"success"`
	Canceled    bool          `json:"canceled,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Outcome returns the outcome for a plan index.
func (r *PlanExecutionResult) Outcome(index int) (TaskOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Index == index {
			return o, true
		}
	}
	return TaskOutcome{}, false
}

// Counts tallies outcomes by status.
func (r *PlanExecutionResult) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// AttemptEvent is emitted after every attempt.
type AttemptEvent struct {
	RunID   string        `json:"run_id"`
	Index   int           `json:"index"`
	Key     retry.TaskKey `json:"key"`
	Attempt retry.Attempt `json:"attempt"`
}
