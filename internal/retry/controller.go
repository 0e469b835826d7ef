// Package retry tracks attempts per task identity and builds the payload for
// the next attempt from the oracle's actionable feedback.
//
// A Controller is owned by a single plan execution. Records are keyed by
// TaskKey; every key is driven by one goroutine, and the mutex only guards
// the map itself.
package retry

import (
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
)

// DefaultMaxAttempts is used when Config.MaxAttempts is unset.
const DefaultMaxAttempts = 3

// TaskKey identifies a task across attempts.
type TaskKey struct {
	Entity   string `json:"entity"`
	Agent    string `json:"agent"`
	TaskType string `json:"task_type"`
}

func (k TaskKey) String() string {
	return k.Entity + ":" + k.Agent + ":" + k.TaskType
}

// Attempt is one worker plus oracle round for a task.
type Attempt struct {
	Number    int               `json:"number"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Verdict   *feedback.Verdict `json:"verdict,omitempty"`
	Error     string            `json:"error,omitempty"`
	Category  string            `json:"category,omitempty"`
}

// Record is the retry state for one TaskKey.
type Record struct {
	Key                TaskKey   `json:"key"`
	AttemptCount       int       `json:"attempt_count"`
	LastErrorSignature string    `json:"last_error_signature,omitempty"`
	History            []Attempt `json:"history,omitempty"`
}

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	// Backoff is the initial wait between attempts. Zero disables waiting.
	Backoff time.Duration
}

// Decision is the outcome of Next.
type Decision struct {
	Terminal bool
	Payload  map[string]any
	Reason   string
}

// Controller owns the retry records of one plan execution.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	records map[TaskKey]*Record
}

// NewController creates a controller. MaxAttempts below 1 uses
// DefaultMaxAttempts.
func NewController(cfg Config) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Controller{
		cfg:     cfg,
		records: make(map[TaskKey]*Record),
	}
}

// MaxAttempts returns the attempt ceiling.
func (c *Controller) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// Begin returns the record for key, creating it on first use.
func (c *Controller) Begin(key TaskKey) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked(key)
}

// Record appends an attempt to the key's history and returns the new
// attempt count.
func (c *Controller) Record(key TaskKey, a Attempt) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordLocked(key)
	rec.AttemptCount++
	if a.Number == 0 {
		a.Number = rec.AttemptCount
	}
	rec.History = append(rec.History, a)
	return rec.AttemptCount
}

// Exhausted reports whether the key has used its whole budget.
func (c *Controller) Exhausted(key TaskKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	return ok && rec.AttemptCount >= c.cfg.MaxAttempts
}

// Snapshot returns a copy of the key's record.
func (c *Controller) Snapshot(key TaskKey) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.History = append([]Attempt(nil), rec.History...)
	return out, true
}

// Next decides whether another attempt is allowed after an invalid verdict
// and, if so, builds its payload. The payload is a fresh copy of original
// with the feedback block injected; original is never modified.
func (c *Controller) Next(key TaskKey, original map[string]any, verdict *feedback.Verdict, categorized feedback.Categorized) Decision {
	c.mu.Lock()
	rec := c.recordLocked(key)
	rec.LastErrorSignature = feedback.Signature(categorized.Actionable)
	count := rec.AttemptCount
	c.mu.Unlock()

	if count >= c.cfg.MaxAttempts {
		return Decision{Terminal: true, Reason: "retry budget exhausted"}
	}

	block := BuildFeedbackBlock(count, c.cfg.MaxAttempts, verdict, categorized)
	return Decision{Payload: InjectFeedback(original, block)}
}

// Finish discards the key's record and any feedback stored with it.
func (c *Controller) Finish(key TaskKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, key)
}

// Len returns the number of live records.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Backoff returns a fresh wait policy for one task's retry loop.
func (c *Controller) Backoff() backoff.BackOff {
	if c.cfg.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.Backoff
	bo.MaxInterval = 10 * c.cfg.Backoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (c *Controller) recordLocked(key TaskKey) *Record {
	rec, ok := c.records[key]
	if !ok {
		rec = &Record{Key: key}
		c.records[key] = rec
	}
	return rec
}

// InjectFeedback returns a shallow copy of payload carrying block under
// PayloadKeyFeedback and its rendered text under PayloadKeyInstructions.
func InjectFeedback(payload map[string]any, block FeedbackBlock) map[string]any {
	out := make(map[string]any, len(payload)+2)
	maps.Copy(out, payload)
	out[PayloadKeyFeedback] = block
	out[PayloadKeyInstructions] = block.Render()
	return out
}
