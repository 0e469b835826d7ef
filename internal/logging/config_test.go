package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/plangate/internal/config"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Console)
	assert.Equal(t, "stderr", cfg.Output.Stream)
	assert.False(t, cfg.Output.OTEL)
	assert.True(t, cfg.Sampling.Enabled)
	assert.Equal(t, time.Second, cfg.Sampling.Tick.Duration())
	assert.Equal(t, "plangate", cfg.Fields["service"])
	assert.Equal(t, zapcore.ErrorLevel, cfg.StacktraceLevel)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	cfg.Output.Stream = "file"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")
	assert.Contains(t, err.Error(), "stream must be")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "invalid format",
			mutate: func(c *Config) { c.Format = "xml" },
			errMsg: "format must be 'json' or 'console'",
		},
		{
			name:   "no output enabled",
			mutate: func(c *Config) { c.Output = OutputConfig{} },
			errMsg: "at least one output must be enabled",
		},
		{
			name:   "unknown stream",
			mutate: func(c *Config) { c.Output.Stream = "file" },
			errMsg: "stream must be",
		},
		{
			name:   "invalid sampling tick",
			mutate: func(c *Config) { c.Sampling.Tick = 0 },
			errMsg: "sampling tick must be > 0",
		},
		{
			name:   "empty field value",
			mutate: func(c *Config) { c.Fields["env"] = "" },
			errMsg: `field "env" has empty value`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{
		Level:    "trace",
		Format:   "console",
		Stream:   "stdout",
		Sampling: false,
	})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output.Stream)
	assert.False(t, cfg.Sampling.Enabled)

	cfg, err = FromAppConfig(config.LoggingConfig{Sampling: true})
	require.NoError(t, err)
	assert.True(t, cfg.Sampling.Enabled)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString(" Trace ")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}
