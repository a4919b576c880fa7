package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copperbooks/recon/internal/cli"
	"github.com/copperbooks/recon/internal/dispatch"
	"github.com/copperbooks/recon/internal/queue"
)

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Enqueue matching jobs for documents or transactions",
		Long: `Plan and enqueue matching jobs for newly arrived documents or bank
transactions. With neither --documents nor --transactions, sweeps one
page of pending documents for the team instead.

Large id lists are sharded into batch jobs automatically.`,
		RunE: runDispatch,
	}

	cmd.Flags().String("team", "", "team id (required)")
	cmd.Flags().StringSlice("documents", nil, "document ids to match")
	cmd.Flags().StringSlice("transactions", nil, "new transaction ids to match bidirectionally")
	_ = cmd.MarkFlagRequired("team")

	return cmd
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	teamID, _ := cmd.Flags().GetString("team")
	documentIDs, _ := cmd.Flags().GetStringSlice("documents")
	transactionIDs, _ := cmd.Flags().GetStringSlice("transactions")

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

	dispatcher := dispatch.NewDispatcher(store, queue.NewClient(store, registry))

	jobs, err := dispatcher.Dispatch(ctx, dispatch.Event{
		TeamID:            teamID,
		DocumentIDs:       documentIDs,
		NewTransactionIDs: transactionIDs,
	})
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println(cli.FormatInfo("Nothing to match"))
		return nil
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Enqueued %d job(s)", len(jobs))))
	for _, job := range jobs {
		fmt.Printf("  %s %s  %s\n", cli.QueueIcon, cli.SubtleStyle.Render(job.ID), job.Type)
	}
	fmt.Println(cli.SubtleStyle.Render("Run 'recon worker' to process the queue."))
	return nil
}
