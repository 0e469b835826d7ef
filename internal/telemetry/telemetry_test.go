package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/plangate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "plangate", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"empty service", func(c *Config) { c.ServiceName = "" }, "service_name is required"},
		{"bad protocol", func(c *Config) { c.Protocol = "thrift" }, "protocol must be"},
		{"insecure remote", func(c *Config) { c.Endpoint = "collector.example.com:4317" }, "insecure connections"},
		{"bad rate", func(c *Config) { c.Sampling.Rate = 1.5 }, "sampling.rate"},
		{"zero interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, "export_interval"},
		{"zero shutdown", func(c *Config) { c.Shutdown.Timeout = 0 }, "shutdown.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_LocalEndpoints(t *testing.T) {
	for _, ep := range []string{"localhost:4317", "127.0.0.1:4318", "[::1]:4317", "::1", "http://localhost:4318"} {
		cfg := NewDefaultConfig()
		cfg.Endpoint = ep
		assert.True(t, cfg.isLocalEndpoint(), ep)
	}
	cfg := NewDefaultConfig()
	cfg.Endpoint = "otel.internal:4317"
	assert.False(t, cfg.isLocalEndpoint())
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "otel.internal:4318",
		Protocol:    "http/protobuf",
		ServiceName: "plangate-ci",
		SampleRate:  0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "plangate-ci", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	require.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_WithTraceExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	tel, err := New(context.Background(), cfg, WithTraceExporter(exporter))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("test").Start(context.Background(), "plangate.plan.execute")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "plangate.plan.execute", spans[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
}

func TestSetDegraded_KeepsFirstReason(t *testing.T) {
	tel := &Telemetry{}
	tel.setDegraded("first: %d", 1)
	tel.setDegraded("second")
	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, "first: 1", h.Reason)
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("test").Start(ctx, "op")
	span.SetAttributes(attribute.String("task.agent", "backend"), attribute.Int("task.attempt", 2))
	span.End()

	tel.AssertSpanExists(t, "op")
	tel.AssertSpanAttribute(t, "op", "task.agent", "backend")
	tel.AssertSpanAttribute(t, "op", "task.attempt", int64(2))
	assert.Len(t, tel.SpansByName("op"), 1)

	counter, err := tel.Meter("test").Int64Counter("plangate.test.counter")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	m, ok := tel.MetricByName(ctx, "plangate.test.counter")
	require.True(t, ok)
	assert.Equal(t, "plangate.test.counter", m.Name)
}
