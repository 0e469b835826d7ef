// Package plan defines the unit of work handed to the coordinator and the
// pre-flight checks that gate a plan before any worker is invoked.
//
// A Plan is an ordered list of TaskDescriptors. Execution order is the stable
// sort of tasks by Priority (lower first); tasks that share a priority form a
// stage and may run concurrently.
package plan

import (
	"fmt"
	"sort"
	"strings"
)

// EntityKey is the payload key used to name the entity a task produces.
const EntityKey = "entity"

// TaskDescriptor is a single unit of work for a worker agent.
type TaskDescriptor struct {
	AgentID  string         `json:"agent_id" yaml:"agent_id" toml:"agent_id"`
	TaskType string         `json:"task_type" yaml:"task_type" toml:"task_type"`
	Payload  map[string]any `json:"payload" yaml:"payload" toml:"payload"`
	Priority int            `json:"priority" yaml:"priority" toml:"priority"`
}

// Entity returns the entity name carried in the payload, or a positional
// fallback when the payload does not name one.
func (t TaskDescriptor) Entity(index int) string {
	if name, ok := t.Payload[EntityKey].(string); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return fmt.Sprintf("task-%d", index)
}

// Plan is an ordered collection of tasks.
type Plan struct {
	Name  string           `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Tasks []TaskDescriptor `json:"tasks" yaml:"tasks" toml:"tasks"`
}

// IndexedTask pairs a task with its position in Plan.Tasks.
type IndexedTask struct {
	Index int            `json:"index"`
	Task  TaskDescriptor `json:"task"`
}

// Order returns the tasks in execution order.
func (p Plan) Order() []IndexedTask {
	ordered := make([]IndexedTask, len(p.Tasks))
	for i, t := range p.Tasks {
		ordered[i] = IndexedTask{Index: i, Task: t}
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Task.Priority < ordered[b].Task.Priority
	})
	return ordered
}

// Stages groups the execution order into runs of equal priority.
func (p Plan) Stages() [][]IndexedTask {
	ordered := p.Order()
	if len(ordered) == 0 {
		return nil
	}

	var stages [][]IndexedTask
	start := 0
	for i := 1; i <= len(ordered); i++ {
		if i == len(ordered) || ordered[i].Task.Priority != ordered[start].Task.Priority {
			stages = append(stages, ordered[start:i])
			start = i
		}
	}
	return stages
}

// Len returns the number of tasks in the plan.
func (p Plan) Len() int {
	return len(p.Tasks)
}
