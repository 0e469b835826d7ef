// Package escalation decides what happens to a task that ran out of retries
// while its artifact was still invalid.
//
// In strict mode a task with unresolved CRITICAL findings is escalated for
// human review, and one without them fails. In lenient mode the latest
// artifact is force-accepted and tagged with the issues that remain.
package escalation

import (
	"fmt"
	"maps"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
)

// Artifact metadata keys added on force-accept.
const (
	MetadataUnresolvedIssues  = "unresolved_issues"
	MetadataForceAcceptReason = "force_accept_reason"
)

// Disposition is the resolved fate of a terminal task.
type Disposition string

const (
	DispositionEscalated     Disposition = "escalated"
	DispositionFailed        Disposition = "failed"
	DispositionForceAccepted Disposition = "force_accepted"
)

// Terminal describes a task whose retry loop has ended while invalid.
type Terminal struct {
	Entity   string
	AgentID  string
	TaskType string
	Attempts int

	// Verdict and Categorized describe the latest attempt.
	Verdict     *feedback.Verdict
	Categorized feedback.Categorized
	Artifact    map[string]any

	LoopGuardTripped bool
}

// Report is produced when a task is escalated for human review.
type Report struct {
	EntityContext              string          `json:"entity_context"`
	AgentID                    string          `json:"agent_id"`
	TaskType                   string          `json:"task_type"`
	UnresolvedCriticalFindings []feedback.Item `json:"unresolved_critical_findings"`
	AttemptsExhausted          int             `json:"attempts_exhausted"`
	RequiresHumanReview        bool            `json:"requires_human_review"`
	StructurallyUnresolvable   bool            `json:"structurally_unresolvable"`
	LoopGuardTripped           bool            `json:"loop_guard_tripped"`
	Reason                     string          `json:"reason"`
}

// Resolution is what the manager decided.
type Resolution struct {
	Disposition Disposition
	// Artifact is set only for force-accepted tasks.
	Artifact          map[string]any
	QualityScore      float64
	UnresolvedIssues  []feedback.Item
	ForceAcceptReason string
	Report            *Report
	Reason            string
}

// Manager applies the global strict/lenient policy.
type Manager struct {
	strict    bool
	predicate feedback.EscalationPredicate
}

// NewManager creates a manager. A nil predicate uses the default patterns.
func NewManager(strict bool, predicate feedback.EscalationPredicate) *Manager {
	if predicate == nil {
		predicate = feedback.MustPatternPredicate(nil)
	}
	return &Manager{strict: strict, predicate: predicate}
}

// Strict reports whether the manager runs in strict mode.
func (m *Manager) Strict() bool {
	return m.strict
}

// Resolve decides the fate of a terminal task.
func (m *Manager) Resolve(t Terminal) Resolution {
	issues := UnresolvedIssues(t.Verdict, t.Categorized)
	trigger := terminalTrigger(t)

	var score float64
	if t.Verdict != nil {
		score = t.Verdict.QualityScore
	}

	if !m.strict {
		reason := fmt.Sprintf("%s after %d attempt(s); accepted with %d unresolved issue(s)", trigger, t.Attempts, len(issues))
		return Resolution{
			Disposition:       DispositionForceAccepted,
			Artifact:          tagArtifact(t.Artifact, issues, reason),
			QualityScore:      score,
			UnresolvedIssues:  issues,
			ForceAcceptReason: reason,
			Reason:            reason,
		}
	}

	if t.Categorized.HasCritical() {
		critical := append([]feedback.Item(nil), t.Categorized.Critical...)
		structural := m.predicate.NeedsEscalation(critical)
		reason := fmt.Sprintf("%s after %d attempt(s) with %d unresolved critical finding(s)", trigger, t.Attempts, len(critical))
		if structural {
			reason += "; findings indicate a structural defect"
		}
		return Resolution{
			Disposition:      DispositionEscalated,
			QualityScore:     score,
			UnresolvedIssues: issues,
			Reason:           reason,
			Report: &Report{
				EntityContext:              t.Entity,
				AgentID:                    t.AgentID,
				TaskType:                   t.TaskType,
				UnresolvedCriticalFindings: critical,
				AttemptsExhausted:          t.Attempts,
				RequiresHumanReview:        true,
				StructurallyUnresolvable:   structural,
				LoopGuardTripped:           t.LoopGuardTripped,
				Reason:                     reason,
			},
		}
	}

	return Resolution{
		Disposition:      DispositionFailed,
		QualityScore:     score,
		UnresolvedIssues: issues,
		Reason:           fmt.Sprintf("%s after %d attempt(s) with %d unresolved issue(s)", trigger, t.Attempts, len(issues)),
	}
}

// UnresolvedIssues picks the issues to surface for a terminal task: the
// actionable set, else every finding, else a synthetic REQUIRED item.
func UnresolvedIssues(v *feedback.Verdict, c feedback.Categorized) []feedback.Item {
	if len(c.Actionable) > 0 {
		return append([]feedback.Item(nil), c.Actionable...)
	}
	if v != nil && len(v.Findings) > 0 {
		return append([]feedback.Item(nil), v.Findings...)
	}
	return []feedback.Item{{Priority: feedback.PriorityRequired, Issue: feedback.SyntheticIssue}}
}

func terminalTrigger(t Terminal) string {
	if t.LoopGuardTripped {
		return "identical feedback repeated"
	}
	return "retry budget exhausted"
}

func tagArtifact(artifact map[string]any, issues []feedback.Item, reason string) map[string]any {
	out := make(map[string]any, len(artifact)+2)
	maps.Copy(out, artifact)
	out[MetadataUnresolvedIssues] = issues
	out[MetadataForceAcceptReason] = reason
	return out
}
