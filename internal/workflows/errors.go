package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
)

// ErrTypeStructural is the application error type of a plan rejected by
// pre-flight. Errors of this type are never retried.
const ErrTypeStructural = "StructuralError"

// Error severity levels for workflow errors
type ErrorSeverity string

const (
	// ErrorSeverityCritical indicates the workflow must fail
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh indicates a task failed but the plan continues
	ErrorSeverityHigh ErrorSeverity = "high"
)

// WorkflowError represents a structured error in a workflow
type WorkflowError struct {
	Operation string        // The operation that failed (e.g., "preflight", "execute_task")
	Severity  ErrorSeverity // How severe the error is
	Err       error         // The underlying error
	Context   string        // Additional context about the error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// toActivityError converts coordinator errors into Temporal errors.
// Structural errors become non-retryable so Temporal does not re-run a
// plan that can never pass pre-flight.
func toActivityError(err error) error {
	if err == nil {
		return nil
	}
	var se *orchestrator.StructuralError
	if errors.As(err, &se) {
		return temporal.NewNonRetryableApplicationError(se.Error(), ErrTypeStructural, se, se.Indices)
	}
	return err
}

// IsStructural reports whether a workflow or activity error carries a
// structural rejection anywhere in its cause chain.
func IsStructural(err error) bool {
	return structuralAppError(err) != nil || orchestrator.IsStructural(err)
}

// StructuralIndices returns the offending plan positions carried by a
// structural workflow error.
func StructuralIndices(err error) []int {
	appErr := structuralAppError(err)
	if appErr == nil || !appErr.HasDetails() {
		return nil
	}
	var indices []int
	if err := appErr.Details(&indices); err != nil {
		return nil
	}
	return indices
}

// structuralAppError walks the application errors in err's chain. Temporal
// wraps activity failures in further application errors.
func structuralAppError(err error) *temporal.ApplicationError {
	for err != nil {
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) {
			return nil
		}
		if appErr.Type() == ErrTypeStructural {
			return appErr
		}
		err = appErr.Unwrap()
	}
	return nil
}
