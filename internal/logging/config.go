package logging

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/plangate/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string // "json" or "console"
	Output OutputConfig

	Sampling SamplingConfig

	// CallerSkip is the number of wrapper frames above the Logger methods.
	// Negative disables caller annotation.
	CallerSkip int

	// StacktraceLevel adds stack traces at and above this level.
	StacktraceLevel zapcore.Level

	// Fields are attached to every entry.
	Fields map[string]string
}

// OutputConfig controls where logs are written.
// Stream is "stderr" or "stdout"; stdout is reserved for plan results by the CLI.
type OutputConfig struct {
	Console bool
	Stream  string
	OTEL    bool
}

// SamplingConfig thins repeated entries per level within each tick.
// Error and above are never sampled.
type SamplingConfig struct {
	Enabled bool
	Tick    config.Duration
	Levels  map[zapcore.Level]LevelSamplingConfig
}

// LevelSamplingConfig keeps the first Initial entries per tick, then every
// Thereafter-th. Thereafter of 0 drops the rest.
type LevelSamplingConfig struct {
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns JSON logging to stderr at info with sampling on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Console: true, Stream: "stderr"},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		CallerSkip:      0,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "plangate"},
	}
}

// FromAppConfig maps the logging section of the application config.
// Sampling is off unless logging.sampling is set, so every attempt of a
// retry loop is kept.
func FromAppConfig(c config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if c.Level != "" {
		lvl, err := LevelFromString(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		cfg.Level = lvl
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	if c.Stream != "" {
		cfg.Output.Stream = c.Stream
	}
	cfg.Output.OTEL = c.OTEL
	cfg.Sampling.Enabled = c.Sampling
	return cfg, nil
}

// DefaultLevelSamplingConfig keeps trace dumps to one per tick.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1, Thereafter: 0},
		zapcore.DebugLevel: {Initial: 10, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("format must be 'json' or 'console', got %q", c.Format))
	}

	switch {
	case !c.Output.Console && !c.Output.OTEL:
		errs = append(errs, errors.New("at least one output must be enabled (console or otel)"))
	case c.Output.Console && c.Output.Stream != "stderr" && c.Output.Stream != "stdout":
		errs = append(errs, fmt.Errorf("stream must be 'stderr' or 'stdout', got %q", c.Output.Stream))
	}

	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		errs = append(errs, errors.New("sampling tick must be > 0 when sampling enabled"))
	}

	for k, v := range c.Fields {
		if k == "" {
			errs = append(errs, errors.New("field key cannot be empty"))
		} else if v == "" {
			errs = append(errs, fmt.Errorf("field %q has empty value", k))
		}
	}

	return errors.Join(errs...)
}
