package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/plangate/internal/escalation"
	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/logging"
	"github.com/fyrsmithlabs/plangate/internal/loopguard"
	"github.com/fyrsmithlabs/plangate/internal/metrics"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
	"github.com/fyrsmithlabs/plangate/internal/retry"
)

const tracerName = "github.com/fyrsmithlabs/plangate/internal/orchestrator"

// Span names.
const (
	SpanPlanExecute = "plangate.plan.execute"
	SpanTaskAttempt = "plangate.task.attempt"
)

// Coordinator drives plans through workers and the oracle.
//
// A Coordinator is safe for concurrent use; every Execute call owns its own
// retry records and loop guard.
type Coordinator struct {
	resolver   Resolver
	oracle     Oracle
	cfg        Config
	escalation *escalation.Manager

	logger   *logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	recorder Recorder
	limiter  *rate.Limiter
	newRunID func() string
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	recorder  Recorder
	predicate feedback.EscalationPredicate
	newRunID  func() string
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithRecorder sets the result consumer.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithPredicate sets the structural-escalation predicate.
func WithPredicate(p feedback.EscalationPredicate) Option {
	return func(o *options) { o.predicate = p }
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *options) { o.newRunID = fn }
}

// New creates a coordinator.
func New(resolver Resolver, oracle Oracle, cfg Config, opts ...Option) (*Coordinator, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.recorder == nil {
		o.recorder = NopRecorder{}
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}

	c := &Coordinator{
		resolver:   resolver,
		oracle:     oracle,
		cfg:        cfg,
		escalation: escalation.NewManager(cfg.StrictMode, o.predicate),
		logger:     o.logger.Named("coordinator"),
		metrics:    o.metrics,
		tracer:     o.tracer,
		recorder:   o.recorder,
		newRunID:   o.newRunID,
	}
	if cfg.DispatchRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), 1)
	}
	return c, nil
}

// Config returns the coordinator policy.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Check runs pre-flight validation and agent resolution without invoking
// any worker. It returns the canonical agent of every task, by plan index.
func (c *Coordinator) Check(p plan.Plan) ([]registry.AgentID, error) {
	_, agents, err := c.resolveAll(p)
	return agents, err
}

func (c *Coordinator) resolveAll(p plan.Plan) ([]Worker, []registry.AgentID, error) {
	if err := plan.Preflight(p); err != nil {
		return nil, nil, newStructuralError(err)
	}

	workers := make([]Worker, len(p.Tasks))
	agents := make([]registry.AgentID, len(p.Tasks))
	for _, it := range p.Order() {
		w, id, err := c.resolver.Resolve(it.Task.AgentID)
		if err != nil {
			return nil, nil, &StructuralError{Indices: []int{it.Index}, Err: err}
		}
		workers[it.Index] = w
		agents[it.Index] = id
	}
	return workers, agents, nil
}

// runState is the per-run state shared by the tasks of one plan execution.
type runState struct {
	runID string
	ctl   *retry.Controller
	guard *loopguard.Guard
}

func (c *Coordinator) newRunState(runID string) *runState {
	return &runState{
		runID: runID,
		ctl:   retry.NewController(retry.Config{MaxAttempts: c.cfg.MaxAttempts, Backoff: c.cfg.RetryBackoff}),
		guard: loopguard.New(loopguard.DefaultThreshold),
	}
}

// Execute runs p to completion.
//
// Structural problems return a *StructuralError and no result; no worker is
// invoked. On cancellation, dispatch stops, in-flight attempts finish under
// their own timeout, and the partial result is returned with ctx.Err().
// Quality and execution failures are reported per task in the result.
func (c *Coordinator) Execute(ctx context.Context, p plan.Plan) (*PlanExecutionResult, error) {
	runID := c.newRunID()
	ctx = logging.WithRunID(ctx, runID)

	ctx, span := c.tracer.Start(ctx, SpanPlanExecute, trace.WithAttributes(
		attribute.String("plan.run_id", runID),
		attribute.String("plan.name", p.Name),
		attribute.Int("plan.tasks", p.Len()),
		attribute.Bool("plan.strict_mode", c.cfg.StrictMode),
	))
	defer span.End()

	workers, agents, err := c.resolveAll(p)
	if err != nil {
		c.metrics.StructuralError()
		span.RecordError(err)
		span.SetStatus(codes.Error, "structural error")
		c.logger.Error(ctx, "plan rejected", zap.Error(err))
		return nil, err
	}

	c.metrics.PlanStarted()
	defer c.metrics.PlanFinished()

	result := &PlanExecutionResult{
		RunID:     runID,
		PlanName:  p.Name,
		Outcomes:  make([]TaskOutcome, 0, p.Len()),
		StartedAt: time.Now(),
	}
	rs := c.newRunState(runID)
	stages := p.Stages()

	c.logger.Info(ctx, "plan started",
		zap.String("plan", p.Name),
		zap.Int("tasks", p.Len()),
		zap.Int("stages", len(stages)),
	)

	for i, stage := range stages {
		if ctx.Err() != nil {
			break
		}
		c.logger.Debug(ctx, "dispatching stage",
			zap.Int("stage", i),
			zap.Int("priority", stage[0].Task.Priority),
			zap.Int("tasks", len(stage)),
		)
		prior := append([]TaskOutcome(nil), result.Outcomes...)
		result.Outcomes = append(result.Outcomes, c.runStage(ctx, rs, stage, workers, agents, prior)...)
	}

	result.CompletedAt = time.Now()
	result.Canceled = ctx.Err() != nil
	result.Success = !result.Canceled && len(result.Outcomes) == p.Len() && allAccepted(result.Outcomes)

	span.SetAttributes(attribute.Bool("plan.success", result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, "plan did not succeed")
	}

	if err := c.recorder.RecordResult(context.WithoutCancel(ctx), result); err != nil {
		c.logger.Warn(ctx, "recording plan result failed", zap.Error(err))
	}

	counts := result.Counts()
	c.logger.Info(ctx, "plan completed",
		zap.Bool("success", result.Success),
		zap.Bool("canceled", result.Canceled),
		zap.Int("succeeded", counts[StatusSucceeded]),
		zap.Int("force_accepted", counts[StatusForceAccepted]),
		zap.Int("escalated", counts[StatusEscalated]),
		zap.Int("failed", counts[StatusFailed]),
		zap.Duration("duration", result.CompletedAt.Sub(result.StartedAt)),
	)

	if result.Canceled {
		return result, ctx.Err()
	}
	return result, nil
}

// runStage dispatches one stage to the bounded pool. Tasks sharing a
// TaskKey run serially in one slot so their retry records never overlap.
func (c *Coordinator) runStage(ctx context.Context, rs *runState, stage []plan.IndexedTask, workers []Worker, agents []registry.AgentID, prior []TaskOutcome) []TaskOutcome {
	slots := make([]*TaskOutcome, len(stage))
	position := make(map[int]int, len(stage))
	for pos, it := range stage {
		position[it.Index] = pos
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.WorkerPoolSize)

	for _, group := range GroupByKey(stage, agents) {
		if !c.dispatchAllowed(ctx) {
			break
		}
		g.Go(func() error {
			for _, it := range group {
				if ctx.Err() != nil {
					return nil
				}
				outcome := c.runTask(ctx, rs, it, workers[it.Index], agents[it.Index], prior)
				slots[position[it.Index]] = &outcome
			}
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]TaskOutcome, 0, len(stage))
	for _, o := range slots {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes
}

func (c *Coordinator) dispatchAllowed(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if c.limiter == nil {
		return true
	}
	return c.limiter.Wait(ctx) == nil
}

// RunTask runs the retry loop of a single task outside of Execute, with
// fresh retry state. prior is exposed to the worker through PriorOutcomes.
// Only structural problems are returned as errors.
func (c *Coordinator) RunTask(ctx context.Context, runID string, index int, task plan.TaskDescriptor, prior []TaskOutcome) (TaskOutcome, error) {
	single := plan.Plan{Tasks: []plan.TaskDescriptor{task}}
	if err := plan.Preflight(single); err != nil {
		return TaskOutcome{}, newStructuralError(err)
	}
	w, agent, err := c.resolver.Resolve(task.AgentID)
	if err != nil {
		return TaskOutcome{}, &StructuralError{Indices: []int{index}, Err: err}
	}
	if runID == "" {
		runID = c.newRunID()
	}
	ctx = logging.WithRunID(ctx, runID)
	return c.runTask(ctx, c.newRunState(runID), plan.IndexedTask{Index: index, Task: task}, w, agent, prior), nil
}

// GroupByKey splits a stage into groups of tasks sharing a retry key,
// preserving execution order within and across groups. agents holds the
// canonical agent for each plan index.
func GroupByKey(stage []plan.IndexedTask, agents []registry.AgentID) [][]plan.IndexedTask {
	var groups [][]plan.IndexedTask
	byKey := make(map[retry.TaskKey]int)
	for _, it := range stage {
		key := taskKey(it, agents[it.Index])
		if gi, ok := byKey[key]; ok {
			groups[gi] = append(groups[gi], it)
			continue
		}
		byKey[key] = len(groups)
		groups = append(groups, []plan.IndexedTask{it})
	}
	return groups
}

func taskKey(it plan.IndexedTask, agent registry.AgentID) retry.TaskKey {
	return retry.TaskKey{
		Entity:   it.Task.Entity(it.Index),
		Agent:    string(agent),
		TaskType: it.Task.TaskType,
	}
}

func allAccepted(outcomes []TaskOutcome) bool {
	for _, o := range outcomes {
		if !o.Status.Accepted() {
			return false
		}
	}
	return true
}
