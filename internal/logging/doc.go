// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (console stream + OpenTelemetry)
//   - Automatic context field injection (trace_id, plan run, task)
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithTask(ctx, logging.Task{Index: 2, Agent: "backend", Entity: "Order"})
//	logger.Info(ctx, "attempt rejected", zap.Int("attempt", 1))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-03-02T10:15:30Z",
//	  "level": "info",
//	  "msg": "attempt rejected",
//	  "trace_id": "abc123",
//	  "plan.run_id": "5f0c...",
//	  "task.index": 2,
//	  "task.agent": "backend",
//	  "task.entity": "Order",
//	  "attempt": 1
//	}
//
// # Testing
//
// Use NewTestLogger to capture entries in memory:
//
//	logger := logging.NewTestLogger()
//	coordinator := orchestrator.New(reg, oracle, cfg, orchestrator.WithLogger(logger.Logger))
//	...
//	logger.AssertLogged(t, zapcore.WarnLevel, "loop guard tripped")
package logging
