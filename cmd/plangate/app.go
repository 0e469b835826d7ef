package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plangate/internal/config"
	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/logging"
	"github.com/fyrsmithlabs/plangate/internal/metrics"
	"github.com/fyrsmithlabs/plangate/internal/natsbus"
	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/registry"
	"github.com/fyrsmithlabs/plangate/internal/telemetry"
)

const tracerName = "github.com/fyrsmithlabs/plangate/cmd/plangate"

// app holds the process-wide dependencies of a plangate command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	promReg   *prometheus.Registry
	metrics   *metrics.Metrics
}

// newApp loads configuration and initializes logging, telemetry and metrics.
//
// Initialization order:
//  1. Configuration (file, then PLANGATE_ environment)
//  2. Telemetry, so the logger can bridge into its log provider
//  3. Logger
//  4. Prometheus registry and coordinator metrics
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newAppFromConfig(ctx, cfg)
}

func newAppFromConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		promReg:   promReg,
		metrics:   metrics.New(promReg),
	}, nil
}

// Close flushes telemetry and the logger.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
	return errors.Join(errs...)
}

// newRegistry builds the alias table from the built-in agents plus the
// configured ones, then binds a worker to every declared agent. A nil bind
// leaves agents unbound.
func newRegistry(cfg *config.Config, bind func(registry.AgentID) registry.Worker) (*registry.Registry, error) {
	reg := registry.New()
	for _, a := range cfg.Agents {
		if err := reg.WithAgent(registry.AgentID(strings.ToLower(strings.TrimSpace(a.Name))), a.Aliases...); err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.Name, err)
		}
	}
	if bind == nil {
		return reg, nil
	}
	for _, id := range reg.Declared() {
		if err := reg.Bind(string(id), bind(id)); err != nil {
			return nil, fmt.Errorf("binding agent %q: %w", id, err)
		}
	}
	return reg, nil
}

// natsWorkers binds every declared agent to its NATS request subject.
func natsWorkers(nc *nats.Conn, cfg *config.Config) func(registry.AgentID) registry.Worker {
	subjects := natsbus.NewSubjects(cfg.NATS.SubjectPrefix)
	return func(id registry.AgentID) registry.Worker {
		return natsbus.NewWorker(nc, subjects, id, cfg.NATS.RequestTimeout.Duration())
	}
}

// connectNATS dials the configured NATS server.
func (a *app) connectNATS(ctx context.Context) (*nats.Conn, error) {
	nc, err := natsbus.Connect(a.cfg.NATS, a.logger.Underlying())
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "NATS connected", zap.String("url", config.RedactURL(a.cfg.NATS.URL)))
	return nc, nil
}

// newCoordinator builds a coordinator over NATS workers and the NATS oracle.
// Results are published to the event subjects when nats.publish is set.
func (a *app) newCoordinator(nc *nats.Conn, extra ...orchestrator.Option) (*orchestrator.Coordinator, error) {
	reg, err := newRegistry(a.cfg, natsWorkers(nc, a.cfg))
	if err != nil {
		return nil, err
	}

	subjects := natsbus.NewSubjects(a.cfg.NATS.SubjectPrefix)
	oracle := natsbus.NewOracle(nc, subjects, a.cfg.NATS.RequestTimeout.Duration())

	opts, err := a.coordinatorOptions()
	if err != nil {
		return nil, err
	}
	if a.cfg.NATS.Publish {
		opts = append(opts, orchestrator.WithRecorder(natsbus.NewPublisher(nc, subjects)))
	}
	return orchestrator.New(reg, oracle, a.coordinatorConfig(), append(opts, extra...)...)
}

func (a *app) coordinatorConfig() orchestrator.Config {
	cfg := orchestrator.FromAppConfig(a.cfg.Coordinator)
	if strictOverride {
		cfg.StrictMode = true
	}
	return cfg
}

func (a *app) coordinatorOptions() ([]orchestrator.Option, error) {
	predicate, err := feedback.NewPatternPredicate(a.cfg.Escalation.Patterns)
	if err != nil {
		return nil, fmt.Errorf("escalation patterns: %w", err)
	}
	return []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(a.telemetry.Tracer(tracerName)),
		orchestrator.WithPredicate(predicate),
	}, nil
}
