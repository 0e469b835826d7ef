package workflows

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/plangate/internal/workflows"

// Activity instruments. They are created against the global meter at init;
// the global provider delegates to whatever telemetry.New installs later.
var (
	preflightCounter     metric.Int64Counter
	taskActivityCounter  metric.Int64Counter
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)

	preflightCounter = must(meter.Int64Counter("plangate.workflows.preflight.executions",
		metric.WithDescription("Plan pre-flight activity executions"),
		metric.WithUnit("{execution}")))
	taskActivityCounter = must(meter.Int64Counter("plangate.workflows.task.executions",
		metric.WithDescription("Task activity executions by outcome status"),
		metric.WithUnit("{execution}")))
	activityDuration = must(meter.Float64Histogram("plangate.workflows.activity.duration",
		metric.WithDescription("Activity execution time"),
		metric.WithUnit("s")))
	activityErrorCounter = must(meter.Int64Counter("plangate.workflows.activity.errors",
		metric.WithDescription("Activity executions that returned an error"),
		metric.WithUnit("{error}")))
}

func must[T any](inst T, err error) T {
	if err != nil {
		panic("workflows: creating instrument: " + err.Error())
	}
	return inst
}
