package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plangate/internal/escalation"
	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/logging"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
	"github.com/fyrsmithlabs/plangate/internal/retry"
)

// Attempt results, used as metric labels and span attributes.
const (
	resultApproved       = "approved"
	resultRejected       = "rejected"
	resultExecutionError = "execution_error"
)

// taskRun is the mutable state of one task's retry loop.
type taskRun struct {
	c       *Coordinator
	rs      *runState
	key     retry.TaskKey
	it      plan.IndexedTask
	worker  Worker
	state   State
	tries   int
	outcome TaskOutcome
}

func (t *taskRun) advance(ctx context.Context, next State) {
	if err := t.state.CanTransition(next); err != nil {
		t.c.logger.Error(ctx, "task state machine violated", zap.Error(err))
	}
	t.state = next
}

// runTask drives one task from pending to a terminal state.
func (c *Coordinator) runTask(ctx context.Context, rs *runState, it plan.IndexedTask, w Worker, agent registry.AgentID, prior []TaskOutcome) TaskOutcome {
	key := taskKey(it, agent)
	ctx = logging.WithTask(ctx, logging.Task{Index: it.Index, Agent: key.Agent, Entity: key.Entity})
	ctx = withPriorOutcomes(ctx, prior)

	t := &taskRun{
		c:      c,
		rs:     rs,
		key:    key,
		it:     it,
		worker: w,
		state:  StatePending,
		outcome: TaskOutcome{
			Index:     it.Index,
			AgentID:   key.Agent,
			TaskType:  key.TaskType,
			Entity:    key.Entity,
			StartedAt: time.Now(),
		},
	}

	rs.ctl.Begin(key)
	defer rs.ctl.Finish(key)
	defer rs.guard.Reset(key)

	t.loop(ctx)

	if rec, ok := rs.ctl.Snapshot(key); ok {
		t.outcome.Attempts = rec.History
	}
	t.outcome.CompletedAt = time.Now()

	c.metrics.ObserveOutcome(string(t.outcome.Status), string(t.outcome.FailureCategory))
	if err := c.recorder.RecordOutcome(context.WithoutCancel(ctx), rs.runID, t.outcome); err != nil {
		c.logger.Warn(ctx, "recording task outcome failed", zap.Error(err))
	}
	return t.outcome
}

func (t *taskRun) loop(ctx context.Context) {
	c := t.c
	original := t.it.Task.Payload
	payload := original
	bo := t.rs.ctl.Backoff()

	for {
		t.advance(ctx, StateRunning)
		t.tries++

		attempt, artifact, verdict, err := c.attempt(ctx, t, payload)
		count := t.rs.ctl.Record(t.key, attempt)
		c.emitAttempt(ctx, t, attempt)

		if err != nil {
			if c.cfg.RetryExecutionFailures && count < t.rs.ctl.MaxAttempts() && ctx.Err() == nil {
				c.logger.Warn(ctx, "attempt failed, retrying",
					zap.Int("attempt", count),
					zap.Error(err),
				)
				t.advance(ctx, StateRetrying)
				if !t.wait(ctx, bo) {
					return
				}
				continue
			}
			t.advance(ctx, StateFailed)
			t.outcome.Status = StatusFailed
			t.outcome.FailureCategory = CategoryExecution
			t.outcome.Error = err.Error()
			c.logger.Error(ctx, "task failed", zap.Int("attempt", count), zap.Error(err))
			return
		}

		t.advance(ctx, StateValidating)
		t.outcome.QualityScore = verdict.QualityScore

		if verdict.IsValid {
			t.advance(ctx, StateApproved)
			t.outcome.Status = StatusSucceeded
			t.outcome.Artifact = artifact
			categorized := feedback.Categorize(verdict.Findings)
			t.outcome.Feedback = &categorized
			c.logger.Info(ctx, "task approved",
				zap.Int("attempt", count),
				zap.Float64("quality_score", verdict.QualityScore),
			)
			return
		}

		categorized := feedback.Categorize(verdict.Findings)
		t.outcome.Feedback = &categorized

		c.logger.Warn(ctx, "attempt rejected",
			zap.Int("attempt", count),
			zap.Float64("quality_score", verdict.QualityScore),
			zap.Int("critical", len(categorized.Critical)),
			zap.Int("required", len(categorized.Required)),
			zap.Int("optional", len(categorized.Optional)),
		)

		lg := t.rs.guard.Observe(t.key, feedback.Signature(categorized.Actionable))
		if lg.Tripped {
			c.metrics.LoopGuardTripped(t.key.Agent)
			c.logger.Warn(ctx, "loop guard tripped",
				zap.Int("attempt", count),
				zap.Int("repeats", lg.Repeats),
			)
			t.resolve(ctx, count, verdict, categorized, artifact, true)
			return
		}

		decision := t.rs.ctl.Next(t.key, original, verdict, categorized)
		if decision.Terminal {
			t.resolve(ctx, count, verdict, categorized, artifact, false)
			return
		}

		if ctx.Err() != nil {
			t.cancel(ctx)
			return
		}

		t.advance(ctx, StateRetrying)
		if !t.wait(ctx, bo) {
			return
		}
		payload = decision.Payload
	}
}

// wait sleeps for the next backoff interval. It returns false, with the
// outcome set to canceled, if ctx ends first.
func (t *taskRun) wait(ctx context.Context, bo backoff.BackOff) bool {
	d := bo.NextBackOff()
	if d <= 0 {
		if ctx.Err() != nil {
			t.cancel(ctx)
			return false
		}
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		t.cancel(ctx)
		return false
	}
}

func (t *taskRun) cancel(ctx context.Context) {
	t.advance(ctx, StateFailed)
	t.outcome.Status = StatusFailed
	t.outcome.FailureCategory = CategoryCanceled
	t.outcome.Error = context.Cause(ctx).Error()
	t.c.logger.Warn(ctx, "task canceled before retry", zap.Int("attempts", t.tries))
}

// resolve hands an exhausted task to the escalation manager.
func (t *taskRun) resolve(ctx context.Context, attempts int, verdict *feedback.Verdict, categorized feedback.Categorized, artifact Artifact, tripped bool) {
	c := t.c
	res := c.escalation.Resolve(escalation.Terminal{
		Entity:           t.key.Entity,
		AgentID:          t.key.Agent,
		TaskType:         t.key.TaskType,
		Attempts:         attempts,
		Verdict:          verdict,
		Categorized:      categorized,
		Artifact:         artifact,
		LoopGuardTripped: tripped,
	})

	t.outcome.LoopGuardTripped = tripped
	t.outcome.FailureCategory = CategoryExhausted
	if tripped {
		t.outcome.FailureCategory = CategoryLoopDetected
	}
	t.outcome.QualityScore = res.QualityScore
	t.outcome.UnresolvedIssues = res.UnresolvedIssues

	switch res.Disposition {
	case escalation.DispositionForceAccepted:
		t.advance(ctx, StateForceAccepted)
		t.outcome.Status = StatusForceAccepted
		t.outcome.Artifact = res.Artifact
		t.outcome.ForceAcceptReason = res.ForceAcceptReason
		c.logger.Warn(ctx, "task force-accepted",
			zap.String("reason", res.Reason),
			zap.Int("unresolved", len(res.UnresolvedIssues)),
		)
	case escalation.DispositionEscalated:
		t.advance(ctx, StateEscalated)
		t.outcome.Status = StatusEscalated
		t.outcome.Escalation = res.Report
		t.outcome.Error = res.Reason
		c.metrics.Escalated(t.key.Agent)
		c.logger.Error(ctx, "task escalated",
			zap.String("reason", res.Reason),
			zap.Bool("structurally_unresolvable", res.Report.StructurallyUnresolvable),
		)
	default:
		t.advance(ctx, StateFailed)
		t.outcome.Status = StatusFailed
		t.outcome.Error = res.Reason
		c.logger.Error(ctx, "task failed", zap.String("reason", res.Reason))
	}
}

// attempt runs one worker call and, if it succeeds, one oracle call.
// Calls run on a context detached from cancellation so that an in-flight
// attempt finishes; each call is still bounded by PerCallTimeout.
func (c *Coordinator) attempt(ctx context.Context, t *taskRun, payload map[string]any) (retry.Attempt, Artifact, *feedback.Verdict, error) {
	number := t.tries

	ctx, span := c.tracer.Start(ctx, SpanTaskAttempt, trace.WithAttributes(
		attribute.Int("task.index", t.it.Index),
		attribute.String("task.agent", t.key.Agent),
		attribute.String("task.type", t.key.TaskType),
		attribute.String("task.entity", t.key.Entity),
		attribute.Int("task.attempt", number),
	))
	defer span.End()

	started := time.Now()
	attempt := retry.Attempt{Number: number, StartedAt: started}
	detached := context.WithoutCancel(ctx)

	finish := func(result string, err error) {
		attempt.Duration = time.Since(started)
		span.SetAttributes(attribute.String("attempt.result", result))
		if err != nil {
			attempt.Error = err.Error()
			attempt.Category = string(CategoryExecution)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.ObserveAttempt(t.key.Agent, result, attempt.Duration)
	}

	artifact, err := callWithTimeout(detached, c.cfg.PerCallTimeout, StageWorker, func(ctx context.Context) (Artifact, error) {
		return t.worker.Execute(ctx, t.key.TaskType, maps.Clone(payload))
	})
	if err != nil {
		finish(resultExecutionError, err)
		return attempt, nil, nil, err
	}
	if artifact == nil {
		artifact = Artifact{}
	}

	verdict, err := callWithTimeout(detached, c.cfg.PerCallTimeout, StageOracle, func(ctx context.Context) (*feedback.Verdict, error) {
		return c.oracle.Validate(ctx, t.key.Entity, t.key.Agent, t.key.TaskType, artifact)
	})
	if err != nil {
		finish(resultExecutionError, err)
		return attempt, nil, nil, err
	}

	verdict = feedback.Normalize(verdict)
	attempt.Verdict = verdict
	result := resultApproved
	if !verdict.IsValid {
		result = resultRejected
		attempt.Category = string(CategoryQuality)
	}
	span.SetAttributes(attribute.Float64("attempt.quality_score", verdict.QualityScore))
	finish(result, nil)

	c.logger.Trace(ctx, "attempt completed",
		zap.Int("attempt", number),
		zap.Any("payload", payload),
		zap.Any("verdict", verdict),
	)
	return attempt, artifact, verdict, nil
}

func (c *Coordinator) emitAttempt(ctx context.Context, t *taskRun, a retry.Attempt) {
	event := AttemptEvent{RunID: t.rs.runID, Index: t.it.Index, Key: t.key, Attempt: a}
	if err := c.recorder.RecordAttempt(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn(ctx, "recording attempt failed", zap.Error(err))
	}
}

type callResult[T any] struct {
	value T
	err   error
}

// callWithTimeout runs fn under timeout. A panic in fn and a call that
// outlives its deadline are both returned as *ExecutionError; a call that
// ignores its context is abandoned, not waited for.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		var r callResult[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = &ExecutionError{Stage: stage, Panic: true, Err: fmt.Errorf("%v", p)}
			}
			done <- r
		}()
		r.value, r.err = fn(ctx)
	}()

	var zero T
	select {
	case r := <-done:
		if r.err == nil {
			return r.value, nil
		}
		var ee *ExecutionError
		if errors.As(r.err, &ee) {
			return zero, r.err
		}
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return zero, newTimeoutError(stage, timeout)
		}
		return zero, &ExecutionError{Stage: stage, Err: r.err}
	case <-ctx.Done():
		return zero, newTimeoutError(stage, timeout)
	}
}
