package retry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
)

func TestBuildFeedbackBlock_ExcludesOptional(t *testing.T) {
	verdict := &feedback.Verdict{
		QualityScore: 0.55,
		Summary:      "two problems",
		Findings: []feedback.Item{
			{Priority: feedback.PriorityCritical, Issue: "A", Fix: "do A"},
			{Priority: feedback.PriorityOptional, Issue: "B", Fix: "do B"},
			{Priority: feedback.PriorityRequired, Issue: "C", Fix: "do C"},
		},
	}

	block := BuildFeedbackBlock(1, 3, verdict, feedback.Categorize(verdict.Findings))

	issues := []string{}
	for _, in := range block.Instructions {
		issues = append(issues, in.Issue)
	}
	assert.Equal(t, []string{"A", "C"}, issues)
	assert.NotContains(t, block.Render(), "do B")
}

func TestBuildFeedbackBlock_NilVerdict(t *testing.T) {
	block := BuildFeedbackBlock(2, 3, nil, feedback.Categorized{})
	assert.Zero(t, block.PreviousScore)
	assert.Empty(t, block.Reasoning)
	assert.NotNil(t, block.Instructions)
}

func TestFeedbackBlock_Render(t *testing.T) {
	block := FeedbackBlock{
		Attempt:       1,
		MaxAttempts:   3,
		PreviousScore: 0.4,
		Reasoning:     "The model lacks an id field.",
		Instructions: []Instruction{
			{Priority: feedback.PriorityCritical, Issue: "missing field", Fix: "add id"},
			{Priority: feedback.PriorityRequired, Issue: "naming"},
		},
		Directive: Directive,
	}

	text := block.Render()
	lines := strings.Split(text, "\n")

	assert.Equal(t, "VALIDATION FEEDBACK (attempt 1 of 3 rejected, quality score 0.40)", lines[0])
	assert.Contains(t, text, "Reviewer reasoning:\nThe model lacks an id field.")
	assert.Contains(t, text, "1. [CRITICAL] missing field\n   Fix: add id\n")
	assert.Contains(t, text, "2. [REQUIRED] naming\n")
	assert.NotContains(t, text, "2. [REQUIRED] naming\n   Fix:")
	assert.True(t, strings.HasSuffix(text, Directive))
}
