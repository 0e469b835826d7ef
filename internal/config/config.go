// Package config provides configuration loading for plangate.
//
// Configuration is loaded from an optional YAML file and overridden by
// PLANGATE_ environment variables, with defaults applied before validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config holds the complete plangate configuration.
type Config struct {
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Escalation  EscalationConfig  `koanf:"escalation"`
	Agents      []AgentConfig     `koanf:"agents"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	NATS        NATSConfig        `koanf:"nats"`
	Temporal    TemporalConfig    `koanf:"temporal"`
}

// CoordinatorConfig holds retry and dispatch settings.
type CoordinatorConfig struct {
	MaxAttempts            int      `koanf:"max_attempts"`
	StrictMode             bool     `koanf:"strict_mode"`
	WorkerPoolSize         int      `koanf:"worker_pool_size"`
	PerCallTimeout         Duration `koanf:"per_call_timeout"`
	DispatchRate           float64  `koanf:"dispatch_rate"` // tasks per second, 0 = unlimited
	RetryBackoff           Duration `koanf:"retry_backoff"`
	RetryExecutionFailures bool     `koanf:"retry_execution_failures"`
}

// EscalationConfig holds the patterns that mark a CRITICAL finding as structurally unresolvable.
type EscalationConfig struct {
	Patterns []string `koanf:"patterns"`
}

// AgentConfig declares an additional canonical agent and its aliases.
type AgentConfig struct {
	Name    string   `koanf:"name"`
	Aliases []string `koanf:"aliases"`
}

// LoggingConfig holds the user-facing logging settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Stream   string `koanf:"stream"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Endpoint      string  `koanf:"endpoint"`
	Protocol      string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure      bool    `koanf:"insecure"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
	ServiceName   string  `koanf:"service_name"`
	SampleRate    float64 `koanf:"sample_rate"`
}

// NATSConfig holds the NATS transport settings used by remote workers and the oracle.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	Token          Secret   `koanf:"token"`
	SubjectPrefix  string   `koanf:"subject_prefix"`
	RequestTimeout Duration `koanf:"request_timeout"`
	Publish        bool     `koanf:"publish"`
}

// TemporalConfig holds the Temporal client settings for durable plan runs.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

var subjectTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Coordinator.MaxAttempts == 0 {
		cfg.Coordinator.MaxAttempts = 3
	}
	if cfg.Coordinator.WorkerPoolSize == 0 {
		cfg.Coordinator.WorkerPoolSize = 4
	}
	if cfg.Coordinator.PerCallTimeout == 0 {
		cfg.Coordinator.PerCallTimeout = Duration(5 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Stream == "" {
		cfg.Logging.Stream = "stderr"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "plangate"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "plangate"
	}
	if cfg.NATS.RequestTimeout == 0 {
		cfg.NATS.RequestTimeout = cfg.Coordinator.PerCallTimeout
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "127.0.0.1:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "plangate"
	}
}

// Validate validates the configuration.
// Returns an error joining every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Coordinator.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("coordinator.max_attempts must be >= 1, got %d", c.Coordinator.MaxAttempts))
	}
	if c.Coordinator.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("coordinator.worker_pool_size must be >= 1, got %d", c.Coordinator.WorkerPoolSize))
	}
	if c.Coordinator.PerCallTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("coordinator.per_call_timeout must be > 0"))
	}
	if c.Coordinator.DispatchRate < 0 {
		errs = append(errs, fmt.Errorf("coordinator.dispatch_rate must be >= 0, got %g", c.Coordinator.DispatchRate))
	}

	for _, p := range c.Escalation.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("escalation pattern %q: %w", p, err))
		}
	}

	seen := make(map[string]bool)
	for i, a := range c.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			errs = append(errs, fmt.Errorf("agents[%d].name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate agent %q", i, name))
		}
		seen[name] = true
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	switch c.Logging.Stream {
	case "stderr", "stdout":
	default:
		errs = append(errs, fmt.Errorf("logging.stream must be 'stderr' or 'stdout', got %q", c.Logging.Stream))
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be within [0,1], got %g", c.Telemetry.SampleRate))
		}
	}

	if _, err := url.Parse(c.NATS.URL); err != nil {
		errs = append(errs, fmt.Errorf("nats.url: %w", err))
	}
	for _, tok := range strings.Split(c.NATS.SubjectPrefix, ".") {
		if !subjectTokenPattern.MatchString(tok) {
			errs = append(errs, fmt.Errorf("nats.subject_prefix %q contains an invalid token", c.NATS.SubjectPrefix))
			break
		}
	}
	if c.NATS.RequestTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("nats.request_timeout must be > 0"))
	}

	if c.Temporal.TaskQueue == "" {
		errs = append(errs, errors.New("temporal.task_queue is required"))
	}

	return errors.Join(errs...)
}
