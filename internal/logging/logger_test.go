package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Default(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NoError(t, logger.Sync())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextFieldsInjected(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithTask(ctx, Task{Index: 1, Agent: "database", Entity: "User"})

	tl.Warn(ctx, "attempt rejected", zap.Int("attempt", 2))

	tl.AssertLogged(t, zapcore.WarnLevel, "attempt rejected")
	tl.AssertField(t, "attempt rejected", "plan.run_id", "run-42")
	tl.AssertField(t, "attempt rejected", "task.agent", "database")
	tl.AssertField(t, "attempt rejected", "attempt", int64(2))
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "attempt rejected")
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()
	tracer := trace.NewTracerProvider().Tracer("test")
	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()

	tl.Info(ctx, "inside span")
	tl.AssertTraceCorrelation(t, "inside span")
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "payload dump")
	tl.AssertLogged(t, TraceLevel, "payload dump")
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("coordinator").With(zap.String("component", "retry"))
	child.Info(context.Background(), "child message")

	entries := tl.FilterMessage("child message").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "coordinator", entries[0].LoggerName)
	assert.Equal(t, "retry", entries[0].ContextMap()["component"])
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	cfg := NewDefaultConfig().Sampling
	cfg.Levels = map[zapcore.Level]LevelSamplingConfig{
		zapcore.InfoLevel: {Initial: 1, Thereafter: 0},
	}
	logger := zap.New(newSampledCore(core, cfg))

	for i := 0; i < 5; i++ {
		logger.Info("same info")
		logger.Error("same error")
	}

	assert.Equal(t, 1, observed.FilterMessage("same info").Len())
	assert.Equal(t, 5, observed.FilterMessage("same error").Len())
}

func TestSampledCore_Disabled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := zap.New(newSampledCore(core, SamplingConfig{Enabled: false}))

	for i := 0; i < 3; i++ {
		logger.Info("repeat")
	}
	assert.Equal(t, 3, observed.Len())
}

func TestEncoder_NamesTraceLevel(t *testing.T) {
	buf, err := newEncoder("json").EncodeEntry(zapcore.Entry{Level: TraceLevel, Message: "dump"}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"trace"`)

	buf, err = newEncoder("json").EncodeEntry(zapcore.Entry{Level: zapcore.WarnLevel, Message: "slow"}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestLogger_DisabledLevelDropped(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	l := &Logger{zap: zap.New(core)}

	l.Debug(WithRunID(context.Background(), "run-1"), "hidden")
	l.Info(WithRunID(context.Background(), "run-1"), "shown")

	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "run-1", observed.All()[0].ContextMap()["plan.run_id"])
}
