package retry

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
)

// Payload keys written into a retried task's payload.
const (
	PayloadKeyFeedback     = "validation_feedback"
	PayloadKeyInstructions = "retry_instructions"
)

// Directive closes every feedback block.
const Directive = "Address ALL of the issues listed above. Every CRITICAL and REQUIRED item must be resolved in this attempt; a partial fix will be rejected."

// Instruction is a priority-tagged fix request.
type Instruction struct {
	Priority feedback.Priority `json:"priority"`
	Issue    string            `json:"issue"`
	Fix      string            `json:"fix,omitempty"`
}

// FeedbackBlock is the structured retry context handed to a worker.
type FeedbackBlock struct {
	Attempt       int           `json:"attempt"`
	MaxAttempts   int           `json:"max_attempts"`
	PreviousScore float64       `json:"previous_score"`
	Reasoning     string        `json:"reasoning,omitempty"`
	Instructions  []Instruction `json:"instructions"`
	Directive     string        `json:"directive"`
}

// BuildFeedbackBlock derives a block from the latest verdict. Only
// actionable findings become instructions.
func BuildFeedbackBlock(attempt, maxAttempts int, verdict *feedback.Verdict, categorized feedback.Categorized) FeedbackBlock {
	block := FeedbackBlock{
		Attempt:      attempt,
		MaxAttempts:  maxAttempts,
		Instructions: make([]Instruction, 0, len(categorized.Actionable)),
		Directive:    Directive,
	}
	if verdict != nil {
		block.PreviousScore = verdict.QualityScore
		block.Reasoning = verdict.Summary
	}
	for _, item := range categorized.Actionable {
		block.Instructions = append(block.Instructions, Instruction{
			Priority: item.Priority,
			Issue:    item.Issue,
			Fix:      item.Fix,
		})
	}
	return block
}

// Render formats the block as plain text for prompt-driven workers.
func (b FeedbackBlock) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "VALIDATION FEEDBACK (attempt %d of %d rejected, quality score %.2f)\n", b.Attempt, b.MaxAttempts, b.PreviousScore)

	if r := strings.TrimSpace(b.Reasoning); r != "" {
		sb.WriteString("\nReviewer reasoning:\n")
		sb.WriteString(r)
		sb.WriteString("\n")
	}

	if len(b.Instructions) > 0 {
		sb.WriteString("\nIssues to fix:\n")
		for i, in := range b.Instructions {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, in.Priority, in.Issue)
			if fix := strings.TrimSpace(in.Fix); fix != "" {
				fmt.Fprintf(&sb, "   Fix: %s\n", fix)
			}
		}
	}

	sb.WriteString("\n")
	sb.WriteString(b.Directive)
	return sb.String()
}
