package plan

import (
	"fmt"
	"strings"
)

// Field names reported by pre-flight violations.
const (
	FieldAgentID  = "agent_id"
	FieldTaskType = "task_type"
	FieldPayload  = "payload"
)

// Violation names a task position and the field that failed its check.
type Violation struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("task %d: %s %s", v.Index, v.Field, v.Message)
}

// ValidationError is returned when a plan fails pre-flight checks.
// It carries every violation found, not just the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "plan validation failed: " + strings.Join(parts, "; ")
}

// Indices returns the distinct task positions that have violations, in
// ascending order.
func (e *ValidationError) Indices() []int {
	seen := make(map[int]bool, len(e.Violations))
	var out []int
	for _, v := range e.Violations {
		if !seen[v.Index] {
			seen[v.Index] = true
			out = append(out, v.Index)
		}
	}
	return out
}

// Preflight checks that every task names an agent, a task type and carries
// a payload. An empty payload map is accepted; a nil payload is not.
// It never mutates the plan.
func Preflight(p Plan) error {
	var violations []Violation
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.AgentID) == "" {
			violations = append(violations, Violation{Index: i, Field: FieldAgentID, Message: "must be a non-empty string"})
		}
		if strings.TrimSpace(t.TaskType) == "" {
			violations = append(violations, Violation{Index: i, Field: FieldTaskType, Message: "must be a non-empty string"})
		}
		if t.Payload == nil {
			violations = append(violations, Violation{Index: i, Field: FieldPayload, Message: "must be present"})
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
