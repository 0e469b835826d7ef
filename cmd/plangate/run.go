package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/workflows"
)

var (
	runUseTemporal bool
	runMetricsFile string
	runID          string
	runJSON        bool
)

// runCmd executes a plan.
var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a plan",
	Long: `Execute a plan against NATS-hosted workers and the NATS-hosted validation oracle.

Tasks run stage by stage in priority order. Each task is retried with the
oracle's actionable feedback until it is approved or its attempt budget is
spent. Exhausted tasks are force-accepted, or escalated in strict mode.

Exit status is 0 when every task was accepted, 1 when any task was escalated
or failed, and 2 when the plan is structurally invalid.

Examples:
  # Run a plan in-process
  plangate run plan.yaml

  # Run in strict mode and print the full result as JSON
  plangate run --strict --json plan.yaml

  # Run durably on a plangate worker through Temporal
  plangate run --temporal plan.yaml

  # Write coordinator metrics for the node exporter textfile collector
  plangate run --metrics-file /var/lib/node_exporter/plangate.prom plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runUseTemporal, "temporal", false, "run the plan as a Temporal workflow")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	runCmd.Flags().StringVar(&runID, "run-id", "", "plan run id (default: random UUID)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	runCmd.Flags().BoolVar(&strictOverride, "strict", false, "escalate or fail exhausted tasks instead of force-accepting them")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := plan.Load(args[0])
	if err != nil {
		return structuralExit(err)
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id := runID
	if id == "" {
		id = uuid.NewString()
	}

	var result *orchestrator.PlanExecutionResult
	if runUseTemporal {
		result, err = a.executeTemporal(ctx, p, id)
	} else {
		result, err = a.executeLocal(ctx, p, id)
	}

	if runMetricsFile != "" {
		if werr := prometheus.WriteToTextfile(runMetricsFile, a.promReg); werr != nil {
			a.logger.Warn(ctx, "failed to write metrics file", zap.String("path", runMetricsFile), zap.Error(werr))
		}
	}

	if result != nil {
		if perr := printResult(cmd.OutOrStdout(), result, runJSON); perr != nil {
			return perr
		}
	}
	return resultExit(result, err)
}

// executeLocal runs p in-process over NATS workers.
func (a *app) executeLocal(ctx context.Context, p plan.Plan, id string) (*orchestrator.PlanExecutionResult, error) {
	nc, err := a.connectNATS(ctx)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	c, err := a.newCoordinator(nc, orchestrator.WithRunIDGenerator(func() string { return id }))
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, p)
}

// executeTemporal starts PlanWorkflow and waits for its result.
func (a *app) executeTemporal(ctx context.Context, p plan.Plan, id string) (*orchestrator.PlanExecutionResult, error) {
	c, err := a.dialTemporal(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "plangate-" + id,
		TaskQueue: a.cfg.Temporal.TaskQueue,
	}, workflows.PlanWorkflow, workflows.PlanWorkflowInput{Plan: p, RunID: id})
	if err != nil {
		return nil, fmt.Errorf("starting plan workflow: %w", err)
	}
	a.logger.Info(ctx, "plan workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("temporal_run_id", run.GetRunID()),
		zap.String("task_queue", a.cfg.Temporal.TaskQueue),
	)

	var result orchestrator.PlanExecutionResult
	if err := run.Get(ctx, &result); err != nil {
		if workflows.IsStructural(err) {
			return nil, &exitError{code: exitStructural, err: err}
		}
		return nil, fmt.Errorf("plan workflow failed: %w", err)
	}
	return &result, nil
}

func (a *app) dialTemporal(ctx context.Context) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	a.logger.Info(ctx, "temporal client connected",
		zap.String("host", a.cfg.Temporal.HostPort),
		zap.String("namespace", a.cfg.Temporal.Namespace),
	)
	return c, nil
}

// resultExit maps a run to the process exit status.
func resultExit(result *orchestrator.PlanExecutionResult, err error) error {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return err
	case orchestrator.IsStructural(err):
		return &exitError{code: exitStructural, err: err}
	case err != nil:
		return &exitError{code: exitFailed, err: err}
	case result != nil && !result.Success:
		counts := result.Counts()
		return &exitError{code: exitFailed, err: fmt.Errorf("plan %s not accepted: %d escalated, %d failed",
			result.RunID, counts[orchestrator.StatusEscalated], counts[orchestrator.StatusFailed])}
	}
	return nil
}

func printResult(out io.Writer, result *orchestrator.PlanExecutionResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "run %s: success=%t duration=%s\n",
		result.RunID, result.Success, result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tAGENT\tENTITY\tSTATUS\tCATEGORY\tATTEMPTS\tSCORE")
	for _, o := range result.Outcomes {
		category := string(o.FailureCategory)
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%.2f\n",
			o.Index, o.AgentID, o.Entity, o.Status, category, len(o.Attempts), o.QualityScore)
	}
	return tw.Flush()
}
