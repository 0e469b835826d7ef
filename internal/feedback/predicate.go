package feedback

import (
	"fmt"
	"regexp"
)

// EscalationPredicate decides whether a set of CRITICAL findings is unlikely
// to be fixed by another generation attempt. It only flags a task for
// escalation once the retry budget is spent; it never blocks a retry.
type EscalationPredicate interface {
	NeedsEscalation(critical []Item) bool
}

// PredicateFunc adapts a function to EscalationPredicate.
type PredicateFunc func(critical []Item) bool

// NeedsEscalation implements EscalationPredicate.
func (f PredicateFunc) NeedsEscalation(critical []Item) bool {
	return f(critical)
}

// DefaultEscalationPatterns match issue text describing cross-cutting defects.
var DefaultEscalationPatterns = []string{
	`(?i)\barchitect(ure|ural)\b`,
	`(?i)\bsecurity\b|vulnerab|\binjection\b`,
	`(?i)\bconcurren(t|cy)\b|race condition|\bdeadlock`,
	`(?i)circular (dependency|import|reference)`,
	`(?i)data (loss|corruption)`,
}

const maxPatternLen = 200

// PatternPredicate flags CRITICAL findings whose issue text matches any of
// its regular expressions.
type PatternPredicate struct {
	patterns []*regexp.Regexp
}

// NewPatternPredicate compiles patterns. A nil or empty list uses
// DefaultEscalationPatterns.
func NewPatternPredicate(patterns []string) (*PatternPredicate, error) {
	if len(patterns) == 0 {
		patterns = DefaultEscalationPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("escalation pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid escalation pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &PatternPredicate{patterns: compiled}, nil
}

// MustPatternPredicate is like NewPatternPredicate but panics on error.
func MustPatternPredicate(patterns []string) *PatternPredicate {
	p, err := NewPatternPredicate(patterns)
	if err != nil {
		panic(err)
	}
	return p
}

// NeedsEscalation implements EscalationPredicate.
func (p *PatternPredicate) NeedsEscalation(critical []Item) bool {
	for _, item := range critical {
		if ParsePriority(string(item.Priority)) != PriorityCritical {
			continue
		}
		for _, re := range p.patterns {
			if re.MatchString(item.Issue) {
				return true
			}
		}
	}
	return false
}
