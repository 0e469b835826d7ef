// Package registry resolves agent identifiers declared in a plan to the
// workers that execute them.
//
// Resolution goes through a fixed alias table:
//
//	backend  ← backend, backendagent, server, api
//	database ← db, database, databaseagent, schema
//	frontend ← frontend, frontendagent, ui, web
//	testing  ← test, testing, testagent, qa
//
// Identifiers are normalized before lookup (trimmed, lowercased, with '-',
// '_' and spaces removed), so "Backend", "backend_agent" and "Backend Agent"
// all resolve to backend. An identifier that matches no alias, or whose
// canonical agent has no bound worker, is an *UnknownAgentError.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// AgentID is a canonical worker identifier.
type AgentID string

// Built-in canonical agents.
const (
	Backend  AgentID = "backend"
	Database AgentID = "database"
	Frontend AgentID = "frontend"
	Testing  AgentID = "testing"
)

// Errors for registry operations.
var (
	ErrInvalidName   = errors.New("invalid agent name: must be alphanumeric with hyphens/underscores")
	ErrAliasConflict = errors.New("alias already bound to another agent")
	ErrNilWorker     = errors.New("worker cannot be nil")
)

// namePattern validates canonical agent names declared from config.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// defaultAliases is the built-in alias table.
var defaultAliases = map[AgentID][]string{
	Backend:  {"backend", "backendagent", "server", "api"},
	Database: {"db", "database", "databaseagent", "schema"},
	Frontend: {"frontend", "frontendagent", "ui", "web"},
	Testing:  {"test", "testing", "testagent", "qa"},
}

// Worker executes one task type for an agent and returns an opaque artifact.
// Expected domain failures are returned as errors; the caller recovers panics.
type Worker interface {
	Execute(ctx context.Context, taskType string, payload map[string]any) (map[string]any, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, taskType string, payload map[string]any) (map[string]any, error)

// Execute implements Worker.
func (f WorkerFunc) Execute(ctx context.Context, taskType string, payload map[string]any) (map[string]any, error) {
	return f(ctx, taskType, payload)
}

// UnknownAgentError reports an agent identifier that could not be resolved.
type UnknownAgentError struct {
	AgentID string
	Known   []AgentID
}

func (e *UnknownAgentError) Error() string {
	known := make([]string, len(e.Known))
	for i, k := range e.Known {
		known[i] = string(k)
	}
	return fmt.Sprintf("unknown agent %q (known agents: %s)", e.AgentID, strings.Join(known, ", "))
}

// Registry maps aliases to canonical agents and canonical agents to workers.
type Registry struct {
	mu      sync.RWMutex
	aliases map[string]AgentID
	workers map[AgentID]Worker
}

// New creates a registry preloaded with the built-in alias table and no
// bound workers.
func New() *Registry {
	r := &Registry{
		aliases: make(map[string]AgentID),
		workers: make(map[AgentID]Worker),
	}
	for id, aliases := range defaultAliases {
		r.aliases[Normalize(string(id))] = id
		for _, alias := range aliases {
			r.aliases[Normalize(alias)] = id
		}
	}
	return r
}

// Normalize folds an agent identifier into its lookup form.
func Normalize(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(id)))
}

// ValidateName checks that a canonical agent name is well formed.
func ValidateName(name string) error {
	if name == "" || len(name) > 64 || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// WithAgent declares an additional canonical agent and its aliases.
// Aliases already owned by a different agent are rejected.
func (r *Registry) WithAgent(id AgentID, aliases ...string) error {
	if err := ValidateName(string(id)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{string(id)}, aliases...)
	for _, alias := range keys {
		n := Normalize(alias)
		if n == "" {
			return fmt.Errorf("%w: empty alias for %q", ErrInvalidName, id)
		}
		if owner, ok := r.aliases[n]; ok && owner != id {
			return fmt.Errorf("%w: %q is an alias of %q", ErrAliasConflict, alias, owner)
		}
	}
	for _, alias := range keys {
		r.aliases[Normalize(alias)] = id
	}
	return nil
}

// Bind attaches a worker to an agent. The agent may be given by canonical
// name or by any alias.
func (r *Registry) Bind(agent string, w Worker) error {
	if w == nil {
		return ErrNilWorker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.aliases[Normalize(agent)]
	if !ok {
		return &UnknownAgentError{AgentID: agent, Known: r.declaredLocked()}
	}
	r.workers[id] = w
	return nil
}

// Resolve returns the worker bound to agentID along with its canonical id.
func (r *Registry) Resolve(agentID string) (Worker, AgentID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.aliases[Normalize(agentID)]
	if ok {
		if w, bound := r.workers[id]; bound {
			return w, id, nil
		}
	}
	return nil, "", &UnknownAgentError{AgentID: agentID, Known: r.knownLocked()}
}

// Known returns every canonical agent with a bound worker, sorted.
func (r *Registry) Known() []AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.knownLocked()
}

// Declared returns every canonical agent in the alias table, sorted.
func (r *Registry) Declared() []AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.declaredLocked()
}

// Aliases returns the normalized aliases that resolve to id, sorted.
func (r *Registry) Aliases(id AgentID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for alias, owner := range r.aliases {
		if owner == id {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) knownLocked() []AgentID {
	out := make([]AgentID, 0, len(r.workers))
	for id := range r.workers {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func (r *Registry) declaredLocked() []AgentID {
	seen := make(map[AgentID]bool)
	var out []AgentID
	for _, id := range r.aliases {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []AgentID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
