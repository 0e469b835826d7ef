package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plangate/internal/workflows"
)

var workerTaskQueue string

// workerCmd hosts the durable plan workflow.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host the durable plan workflow on a Temporal task queue",
	Long: `Host PlanWorkflow and its activities on a Temporal task queue.

Task activities call NATS-hosted workers and the NATS-hosted validation oracle,
exactly like an in-process run. Start plans with "plangate run --temporal".

Examples:
  # Host the workflow on the configured task queue
  plangate worker

  # Host on a specific task queue
  plangate worker --task-queue plangate-staging`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerTaskQueue, "task-queue", "", "Temporal task queue (default from config)")
	workerCmd.Flags().BoolVar(&strictOverride, "strict", false, "escalate or fail exhausted tasks instead of force-accepting them")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	taskQueue := workerTaskQueue
	if taskQueue == "" {
		taskQueue = a.cfg.Temporal.TaskQueue
	}

	nc, err := a.connectNATS(ctx)
	if err != nil {
		return err
	}
	defer nc.Close()

	coord, err := a.newCoordinator(nc)
	if err != nil {
		return err
	}

	c, err := a.dialTemporal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: coord.Config().WorkerPoolSize,
	})
	w.RegisterWorkflow(workflows.PlanWorkflow)
	w.RegisterActivity(workflows.NewActivities(coord))

	a.logger.Info(ctx, "worker configured",
		zap.String("task_queue", taskQueue),
		zap.Int("max_concurrent_activities", coord.Config().WorkerPoolSize),
		zap.Bool("strict_mode", coord.Config().StrictMode),
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "worker starting")
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info(ctx, "shutdown signal received")
	}

	// Worker stops automatically on interrupt signal
	a.logger.Info(ctx, "worker stopped gracefully")
	return nil
}
