// Package main implements the plangate CLI.
//
// plangate validates plan files, executes plans against NATS-hosted workers
// and a NATS-hosted validation oracle, and hosts the durable Temporal plan
// workflow.
//
// Usage:
//
//	plangate validate plan.yaml
//	plangate run plan.yaml
//	plangate run --temporal plan.yaml
//	plangate worker
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location
	configPath string
	// strictOverride forces strict mode regardless of config
	strictOverride bool
)

// Exit codes
const (
	exitFailed     = 1
	exitStructural = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailed
}

var rootCmd = &cobra.Command{
	Use:   "plangate",
	Short: "Plan coordination with validation feedback, retries and escalation",
	Long: `plangate executes multi-agent generation plans.

Each task is dispatched to its worker, the artifact is judged by a validation
oracle, and actionable feedback is routed back into the next attempt until the
task is approved, force-accepted or escalated.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/plangate/config.yaml)")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "plangate by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
