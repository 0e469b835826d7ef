package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plangate/internal/logging"
	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// Server hosts local workers and oracles on NATS subjects.
type Server struct {
	nc       *nats.Conn
	subjects Subjects
	logger   *logging.Logger
	timeout  time.Duration
	subs     []*nats.Subscription
}

// NewServer creates a server. timeout bounds each handled request; zero
// disables it.
func NewServer(nc *nats.Conn, subjects Subjects, logger *logging.Logger, timeout time.Duration) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{nc: nc, subjects: subjects, logger: logger.Named("natsbus"), timeout: timeout}
}

// ServeWorker answers requests for agent with w. Replicas share a queue
// group.
func (s *Server) ServeWorker(agent registry.AgentID, w registry.Worker) error {
	subject := s.subjects.Worker(agent)
	sub, err := s.nc.QueueSubscribe(subject, WorkerQueue, func(msg *nats.Msg) {
		ctx, cancel := s.requestContext(msg)
		defer cancel()

		var req WorkerRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.reply(ctx, msg, WorkerReply{Error: fmt.Sprintf("decode request: %v", err)})
			return
		}

		artifact, err := safeExecute(ctx, w, req)
		if err != nil {
			s.logger.Warn(ctx, "worker failed",
				zap.String("agent", string(agent)),
				zap.String("task_type", req.TaskType),
				zap.Error(err),
			)
			s.reply(ctx, msg, WorkerReply{Error: err.Error()})
			return
		}
		s.reply(ctx, msg, WorkerReply{Artifact: artifact})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// ServeOracle answers validation requests with o.
func (s *Server) ServeOracle(o orchestrator.Oracle) error {
	subject := s.subjects.Oracle()
	sub, err := s.nc.QueueSubscribe(subject, OracleQueue, func(msg *nats.Msg) {
		ctx, cancel := s.requestContext(msg)
		defer cancel()

		var req OracleRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.reply(ctx, msg, OracleReply{Error: fmt.Sprintf("decode request: %v", err)})
			return
		}

		verdict, err := o.Validate(ctx, req.Entity, req.AgentID, req.TaskType, req.Artifact)
		if err != nil {
			s.logger.Warn(ctx, "oracle failed", zap.String("entity", req.Entity), zap.Error(err))
			s.reply(ctx, msg, OracleReply{Error: err.Error()})
			return
		}
		s.reply(ctx, msg, OracleReply{Verdict: verdict})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close drains every subscription.
func (s *Server) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.subs = nil
	return firstErr
}

func (s *Server) requestContext(msg *nats.Msg) (context.Context, context.CancelFunc) {
	ctx := extractContext(context.Background(), msg)
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) reply(ctx context.Context, msg *nats.Msg, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error(ctx, "failed to marshal reply", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error(ctx, "failed to send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func safeExecute(ctx context.Context, w registry.Worker, req WorkerRequest) (artifact map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panicked: %v", p)
		}
	}()
	return w.Execute(ctx, req.TaskType, req.Payload)
}
