package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/logging"
	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// Header names set on every request.
const (
	HeaderRunID = "Plangate-Run-Id"
	HeaderTask  = "Plangate-Task-Index"
)

// ErrRemote wraps an error reported by the remote side of a request.
var ErrRemote = errors.New("remote error")

// WorkerRequest is the body sent to a worker subject.
type WorkerRequest struct {
	TaskType string         `json:"task_type"`
	Payload  map[string]any `json:"payload"`
}

// WorkerReply is the body a worker answers with. A non-empty Error means
// the worker failed; Artifact is then ignored.
type WorkerReply struct {
	Artifact map[string]any `json:"artifact,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// OracleRequest is the body sent to the oracle subject.
type OracleRequest struct {
	Entity   string         `json:"entity"`
	AgentID  string         `json:"agent_id"`
	TaskType string         `json:"task_type"`
	Artifact map[string]any `json:"artifact"`
}

// OracleReply is the body the oracle answers with.
type OracleReply struct {
	Verdict *feedback.Verdict `json:"verdict,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Worker forwards tasks for one agent to a remote worker.
type Worker struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

var _ registry.Worker = (*Worker)(nil)

// NewWorker returns a worker for agent. timeout bounds each request when
// the caller's context has no earlier deadline; zero disables it.
func NewWorker(nc *nats.Conn, subjects Subjects, agent registry.AgentID, timeout time.Duration) *Worker {
	return &Worker{nc: nc, subject: subjects.Worker(agent), timeout: timeout}
}

// Subject returns the request subject.
func (w *Worker) Subject() string {
	return w.subject
}

// Execute implements registry.Worker.
func (w *Worker) Execute(ctx context.Context, taskType string, payload map[string]any) (map[string]any, error) {
	var reply WorkerReply
	if err := request(ctx, w.nc, w.subject, w.timeout, WorkerRequest{TaskType: taskType, Payload: payload}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
	return reply.Artifact, nil
}

// Oracle forwards validation requests to a remote oracle.
type Oracle struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

var _ orchestrator.Oracle = (*Oracle)(nil)

// NewOracle returns a remote oracle.
func NewOracle(nc *nats.Conn, subjects Subjects, timeout time.Duration) *Oracle {
	return &Oracle{nc: nc, subject: subjects.Oracle(), timeout: timeout}
}

// Validate implements orchestrator.Oracle.
func (o *Oracle) Validate(ctx context.Context, entity, agentID, taskType string, artifact orchestrator.Artifact) (*feedback.Verdict, error) {
	req := OracleRequest{Entity: entity, AgentID: agentID, TaskType: taskType, Artifact: artifact}
	var reply OracleReply
	if err := request(ctx, o.nc, o.subject, o.timeout, req, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
	// A missing verdict is normalized by the coordinator into a rejection.
	return reply.Verdict, nil
}

func request(ctx context.Context, nc *nats.Conn, subject string, timeout time.Duration, body, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	injectHeaders(ctx, msg)

	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("no responders on %s: %w", subject, err)
		}
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	return nil
}

func injectHeaders(ctx context.Context, msg *nats.Msg) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		msg.Header.Set(HeaderRunID, runID)
	}
	if task, ok := logging.TaskFromContext(ctx); ok {
		msg.Header.Set(HeaderTask, fmt.Sprint(task.Index))
	}
}

func extractContext(ctx context.Context, msg *nats.Msg) context.Context {
	if msg.Header == nil {
		return ctx
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	if runID := msg.Header.Get(HeaderRunID); runID != "" {
		ctx = logging.WithRunID(ctx, runID)
	}
	return ctx
}
