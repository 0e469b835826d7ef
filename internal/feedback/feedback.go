// Package feedback models validation verdicts and splits their findings
// into priority buckets.
//
// Only CRITICAL and REQUIRED findings are actionable. OPTIONAL findings are
// kept for observability and never drive a retry.
package feedback

import (
	"math"
	"strings"
)

// Priority ranks a finding.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityRequired Priority = "REQUIRED"
	PriorityOptional Priority = "OPTIONAL"
)

// ParsePriority maps a raw priority label onto a known Priority.
// Matching is case-insensitive; anything unrecognized is REQUIRED.
func ParsePriority(raw string) Priority {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(PriorityCritical):
		return PriorityCritical
	case string(PriorityOptional):
		return PriorityOptional
	default:
		return PriorityRequired
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	*p = ParsePriority(string(text))
	return nil
}

// Actionable reports whether findings of this priority drive a retry.
func (p Priority) Actionable() bool {
	return p == PriorityCritical || p == PriorityRequired
}

// Item is a single finding reported by the validation oracle.
type Item struct {
	Priority Priority `json:"priority"`
	Issue    string   `json:"issue"`
	Fix      string   `json:"fix,omitempty"`
}

// Verdict is the oracle's judgement of one artifact.
type Verdict struct {
	IsValid      bool    `json:"is_valid"`
	QualityScore float64 `json:"quality_score"`
	Summary      string  `json:"summary,omitempty"`
	Findings     []Item  `json:"findings,omitempty"`
}

// SyntheticIssue is used when an invalid verdict arrives without findings.
const SyntheticIssue = "validation failed without reporting specific findings"

// Normalize returns a copy of v that satisfies the verdict contract: the
// score is clamped to [0,1], every priority is a known value, and an invalid
// verdict carries at least one finding. A nil verdict is treated as invalid.
func Normalize(v *Verdict) *Verdict {
	if v == nil {
		return &Verdict{
			Findings: []Item{{Priority: PriorityRequired, Issue: SyntheticIssue}},
		}
	}

	out := &Verdict{
		IsValid:      v.IsValid,
		QualityScore: clampScore(v.QualityScore),
		Summary:      v.Summary,
		Findings:     make([]Item, len(v.Findings)),
	}
	for i, item := range v.Findings {
		item.Priority = ParsePriority(string(item.Priority))
		out.Findings[i] = item
	}
	if !out.IsValid && len(out.Findings) == 0 {
		issue := SyntheticIssue
		if s := strings.TrimSpace(v.Summary); s != "" {
			issue = s
		}
		out.Findings = []Item{{Priority: PriorityRequired, Issue: issue}}
	}
	return out
}

func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
