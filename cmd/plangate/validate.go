package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/plangate/internal/config"
	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/orchestrator"
	"github.com/fyrsmithlabs/plangate/internal/plan"
	"github.com/fyrsmithlabs/plangate/internal/registry"
)

// errDryRun is returned by the placeholder workers and oracle of a dry run.
var errDryRun = errors.New("dry run: no worker is invoked")

// validateCmd runs pre-flight validation and agent resolution on a plan file.
var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Validate a plan without executing it",
	Long: `Validate a plan file (YAML, TOML or JSON) without invoking any worker.

Every task must name an agent, a task type and a payload, and every agent must
resolve to a configured canonical agent.

Examples:
  # Validate a plan
  plangate validate plan.yaml

  # Validate against extra agents declared in a config file
  plangate validate --config ./plangate.yaml plan.toml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	p, err := plan.Load(args[0])
	if err != nil {
		return structuralExit(err)
	}

	agents, err := dryRunCheck(cfg, p)
	if err != nil {
		return structuralExit(err)
	}

	printStages(cmd.OutOrStdout(), p, agents)
	return nil
}

// dryRunCheck resolves every task against the configured agents. Each
// declared agent is bound to a placeholder worker.
func dryRunCheck(cfg *config.Config, p plan.Plan) ([]registry.AgentID, error) {
	reg, err := newRegistry(cfg, func(registry.AgentID) registry.Worker {
		return registry.WorkerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, errDryRun
		})
	})
	if err != nil {
		return nil, err
	}

	oracle := orchestrator.OracleFunc(func(context.Context, string, string, string, orchestrator.Artifact) (*feedback.Verdict, error) {
		return nil, errDryRun
	})
	c, err := orchestrator.New(reg, oracle, orchestrator.FromAppConfig(cfg.Coordinator))
	if err != nil {
		return nil, err
	}
	return c.Check(p)
}

// structuralExit marks plan loading and pre-flight failures with the
// structural exit code.
func structuralExit(err error) error {
	var ve *plan.ValidationError
	if orchestrator.IsStructural(err) || errors.As(err, &ve) {
		return &exitError{code: exitStructural, err: err}
	}
	return err
}

func printStages(out io.Writer, p plan.Plan, agents []registry.AgentID) {
	name := p.Name
	if name == "" {
		name = "(unnamed)"
	}
	stages := p.Stages()
	fmt.Fprintf(out, "plan %s: %d tasks in %d stages\n", name, p.Len(), len(stages))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tPRIORITY\tINDEX\tAGENT\tTASK TYPE\tENTITY")
	for i, stage := range stages {
		for _, it := range stage {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n",
				i, it.Task.Priority, it.Index, agents[it.Index], it.Task.TaskType, it.Task.Entity(it.Index))
		}
	}
	_ = tw.Flush()
}
