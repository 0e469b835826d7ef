package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// StructuralError aborts a plan before any worker runs. It wraps either a
// *plan.ValidationError or a *registry.UnknownAgentError.
type StructuralError struct {
	// Indices are the offending plan positions.
	Indices []int
	Err     error
}

func (e *StructuralError) Error() string {
	var unknown *registry.UnknownAgentError
	if errors.As(e.Err, &unknown) && len(e.Indices) == 1 {
		return fmt.Sprintf("structural error: task %d: %v", e.Indices[0], e.Err)
	}
	return "structural error: " + e.Err.Error()
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// Category returns CategoryStructural.
func (e *StructuralError) Category() Category {
	return CategoryStructural
}

func newStructuralError(err error) *StructuralError {
	se := &StructuralError{Err: err}
	var verr *plan.ValidationError
	if errors.As(err, &verr) {
		se.Indices = verr.Indices()
	}
	return se
}

// Stage names the collaborator that failed.
type Stage string

const (
	StageWorker Stage = "worker"
	StageOracle Stage = "oracle"
)

// ExecutionError is a worker or oracle failure: a returned error, a panic,
// or a per-call timeout.
type ExecutionError struct {
	Stage   Stage
	Timeout bool
	Panic   bool
	Err     error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s call timed out: %v", e.Stage, e.Err)
	case e.Panic:
		return fmt.Sprintf("%s panicked: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s call failed: %v", e.Stage, e.Err)
	}
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Category returns CategoryExecution.
func (e *ExecutionError) Category() Category {
	return CategoryExecution
}

func newTimeoutError(stage Stage, timeout time.Duration) *ExecutionError {
	return &ExecutionError{
		Stage:   stage,
		Timeout: true,
		Err:     fmt.Errorf("no response within %s: %w", timeout, context.DeadlineExceeded),
	}
}

// IsStructural reports whether err aborted a plan before execution.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// CategoryOf classifies err. Returns "" for nil or unclassified errors.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var categorized interface{ Category() Category }
	if errors.As(err, &categorized) {
		return categorized.Category()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCanceled
	}
	return ""
}
