package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/dispatch"
	"github.com/copperbooks/recon/internal/queue"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the matching queue worker",
		Long: `Start a worker process that claims matching jobs from the queue and
executes them until interrupted. Concurrency, retry, and retention
policy come from the queue section of the config file.`,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	matcher := buildMatcher(store)
	registry, err := buildRegistry(matcher)
	if err != nil {
		return err
	}

	worker := queue.NewWorker(store, registry)

	common.LogInfo("Starting worker", common.Fields{"queue": dispatch.QueueMatching})
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}

	slog.Info("Worker shut down cleanly")
	return nil
}
