// Package telemetry provides OpenTelemetry instrumentation for plangate.
//
// # Overview
//
// Traces cover a plan run ("plangate.plan.execute") and every worker plus oracle
// round ("plangate.task.attempt"). Meters are used by the Temporal workflow host.
// Data is exported over OTLP, gRPC by default or HTTP when protocol is
// "http/protobuf".
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("plangate.orchestrator")
//	ctx, span := tracer.Start(ctx, "plangate.plan.execute")
//	defer span.End()
//
// # Degradation
//
// Exporter construction failures leave the instance usable: Tracer and Meter
// fall back to the global providers and Health reports the reason.
//
// # Testing
//
//	tel := telemetry.NewTestTelemetry()
//	coord, err := orchestrator.New(reg, oracle, cfg, orchestrator.WithTracer(tel.Tracer("test")))
//	...
//	tel.AssertSpanExists(t, "plangate.task.attempt")
package telemetry
