package feedback

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Categorized holds findings split by priority. Actionable is Critical and
// Required interleaved in their original order.
type Categorized struct {
	Critical   []Item `json:"critical,omitempty"`
	Required   []Item `json:"required,omitempty"`
	Optional   []Item `json:"optional,omitempty"`
	Actionable []Item `json:"actionable,omitempty"`
}

// Total returns the number of findings across all buckets.
func (c Categorized) Total() int {
	return len(c.Critical) + len(c.Required) + len(c.Optional)
}

// HasCritical reports whether any CRITICAL finding is present.
func (c Categorized) HasCritical() bool {
	return len(c.Critical) > 0
}

// Categorize places every finding in exactly one bucket. Items with an
// unrecognized priority land in Required.
func Categorize(items []Item) Categorized {
	var c Categorized
	for _, item := range items {
		item.Priority = ParsePriority(string(item.Priority))
		switch item.Priority {
		case PriorityCritical:
			c.Critical = append(c.Critical, item)
		case PriorityOptional:
			c.Optional = append(c.Optional, item)
			continue
		default:
			c.Required = append(c.Required, item)
		}
		c.Actionable = append(c.Actionable, item)
	}
	return c
}

// Signature is a stable digest of an actionable set. Two sets whose
// priority, issue and fix text match after case folding and whitespace
// collapsing, in the same order, share a signature.
func Signature(actionable []Item) string {
	h := sha256.New()
	for _, item := range actionable {
		h.Write([]byte(string(ParsePriority(string(item.Priority)))))
		h.Write([]byte{'|'})
		h.Write([]byte(normalizeText(item.Issue)))
		h.Write([]byte{'|'})
		h.Write([]byte(normalizeText(item.Fix)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
