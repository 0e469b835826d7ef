package orchestrator

import (
	"context"
	"errors"
)

// Recorder observes a plan run. It is the result consumer hook: errors are
// logged by the coordinator and never change an outcome.
type Recorder interface {
	// RecordAttempt is called after every worker plus oracle round
	RecordAttempt(ctx context.Context, event AttemptEvent) error

	// RecordOutcome is called once per task reaching a terminal state
	RecordOutcome(ctx context.Context, runID string, outcome TaskOutcome) error

	// RecordResult is called once per plan run, including canceled runs
	RecordResult(ctx context.Context, result *PlanExecutionResult) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordAttempt(context.Context, AttemptEvent) error { return nil }
func (NopRecorder) RecordOutcome(context.Context, string, TaskOutcome) error { return nil }
func (NopRecorder) RecordResult(context.Context, *PlanExecutionResult) error { return nil }

// MultiRecorder fans out to every recorder and joins their errors.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordAttempt(ctx context.Context, event AttemptEvent) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordAttempt(ctx, event))
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) RecordOutcome(ctx context.Context, runID string, outcome TaskOutcome) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordOutcome(ctx, runID, outcome))
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) RecordResult(ctx context.Context, result *PlanExecutionResult) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordResult(ctx, result))
	}
	return errors.Join(errs...)
}
