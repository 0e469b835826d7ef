// Package natsbus carries workers, the validation oracle and run events over
// NATS.
//
// Subjects are derived from a single prefix:
//   - {prefix}.worker.{agent}     request/reply, one per canonical agent
//   - {prefix}.oracle.validate    request/reply
//   - {prefix}.events.attempt     published after every attempt
//   - {prefix}.events.outcome     published once per finished task
//   - {prefix}.events.result      published once per plan run
//
// Request and event bodies are JSON. Trace context travels in message
// headers so worker spans join the coordinator's trace.
package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plangate/internal/config"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// WorkerQueue is the queue group shared by every worker subscription, so a
// request is served by one replica.
const WorkerQueue = "plangate-workers"

// OracleQueue is the queue group of oracle subscriptions.
const OracleQueue = "plangate-oracle"

// Subjects builds subject names under a prefix.
type Subjects struct {
	Prefix string
}

// NewSubjects returns subjects under prefix.
func NewSubjects(prefix string) Subjects {
	return Subjects{Prefix: prefix}
}

// Worker returns the request subject for a canonical agent.
func (s Subjects) Worker(agent registry.AgentID) string {
	return fmt.Sprintf("%s.worker.%s", s.Prefix, agent)
}

// Oracle returns the validation request subject.
func (s Subjects) Oracle() string {
	return s.Prefix + ".oracle.validate"
}

// Attempt returns the attempt event subject.
func (s Subjects) Attempt() string {
	return s.Prefix + ".events.attempt"
}

// Outcome returns the task outcome event subject.
func (s Subjects) Outcome() string {
	return s.Prefix + ".events.outcome"
}

// Result returns the plan result event subject.
func (s Subjects) Result() string {
	return s.Prefix + ".events.result"
}

// Events returns a wildcard matching every event subject.
func (s Subjects) Events() string {
	return s.Prefix + ".events.>"
}

// Connect dials NATS with reconnect handling.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("plangate"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", config.RedactURL(nc.ConnectedUrl())))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.RedactURL(cfg.URL), err)
	}
	return nc, nil
}
