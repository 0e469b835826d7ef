// Package orchestrator drives a plan through worker agents and a validation
// oracle, retrying rejected work with targeted feedback and escalating what
// cannot be fixed within budget.
//
// # Overview
//
// A plan is validated in full before anything runs: malformed tasks and
// unknown agents abort with a *StructuralError and no worker is invoked.
// Tasks then run stage by stage in priority order. Tasks inside a stage
// share a bounded pool; tasks that share an (entity, agent, task type) key
// run one after another in the same slot.
//
// # Task lifecycle
//
//	pending → running → validating → approved
//	                  ↘ failed      ↘ retrying → running
//	                                ↘ force_accepted | escalated | failed
//
// Every attempt is one worker call followed by one oracle call, each bounded
// by Config.PerCallTimeout. Rejected attempts are categorized; only CRITICAL
// and REQUIRED findings are fed back into the next payload. Identical
// actionable feedback on consecutive attempts trips the loop guard and ends
// the task early. Exhausted tasks are force-accepted in lenient mode, or
// escalated (CRITICAL findings left) or failed (none left) in strict mode.
//
// Worker and oracle errors, panics and timeouts are execution failures:
// the attempt is consumed and the task fails, unless
// Config.RetryExecutionFailures allows another attempt.
//
// # Cancellation
//
// Canceling the Execute context stops dispatch. Attempts already in flight
// finish on a detached context, no further retries start, and Execute
// returns the partial result with ctx.Err().
//
// # Usage
//
//	reg := registry.New()
//	_ = reg.Bind("backend", backendWorker)
//
//	coord, err := orchestrator.New(reg, oracle, orchestrator.DefaultConfig(),
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
//	)
//	if err != nil {
//	    return err
//	}
//	result, err := coord.Execute(ctx, p)
package orchestrator
