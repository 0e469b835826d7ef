package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
)

// OutcomeEvent is the body published on the outcome subject.
type OutcomeEvent struct {
	RunID   string                   `json:"run_id"`
	Outcome orchestrator.TaskOutcome `json:"outcome"`
}

// Publisher publishes run events. It implements orchestrator.Recorder.
//
// Events are fire-and-forget; the result event is flushed so it is on the
// wire before Execute returns.
type Publisher struct {
	nc           *nats.Conn
	subjects     Subjects
	flushTimeout time.Duration
}

var _ orchestrator.Recorder = (*Publisher)(nil)

// NewPublisher creates a publisher.
func NewPublisher(nc *nats.Conn, subjects Subjects) *Publisher {
	return &Publisher{nc: nc, subjects: subjects, flushTimeout: 5 * time.Second}
}

// RecordAttempt publishes to {prefix}.events.attempt.
func (p *Publisher) RecordAttempt(_ context.Context, event orchestrator.AttemptEvent) error {
	return p.publish(p.subjects.Attempt(), event)
}

// RecordOutcome publishes to {prefix}.events.outcome.
func (p *Publisher) RecordOutcome(_ context.Context, runID string, outcome orchestrator.TaskOutcome) error {
	return p.publish(p.subjects.Outcome(), OutcomeEvent{RunID: runID, Outcome: outcome})
}

// RecordResult publishes to {prefix}.events.result and flushes.
func (p *Publisher) RecordResult(_ context.Context, result *orchestrator.PlanExecutionResult) error {
	if err := p.publish(p.subjects.Result(), result); err != nil {
		return err
	}
	if err := p.nc.FlushTimeout(p.flushTimeout); err != nil {
		return fmt.Errorf("flush result event: %w", err)
	}
	return nil
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
