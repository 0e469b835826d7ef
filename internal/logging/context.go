package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("plan.run_id", runID))
	}

	if task, ok := TaskFromContext(ctx); ok {
		fields = append(fields, zap.Int("task.index", task.Index))
		if task.Agent != "" {
			fields = append(fields, zap.String("task.agent", task.Agent))
		}
		if task.Entity != "" {
			fields = append(fields, zap.String("task.entity", task.Entity))
		}
	}

	return fields
}

// Context key types
type runIDCtxKey struct{}
type taskCtxKey struct{}
type loggerCtxKey struct{}

// Task identifies the plan task a log line belongs to.
type Task struct {
	Index  int
	Agent  string
	Entity string
}

// WithRunID adds a plan run id to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// RunIDFromContext extracts the plan run id from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runIDCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithTask adds task identity to context.
func WithTask(ctx context.Context, task Task) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, task)
}

// TaskFromContext extracts task identity from context.
func TaskFromContext(ctx context.Context) (Task, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(Task)
	return t, ok
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
