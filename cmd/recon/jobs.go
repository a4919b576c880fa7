package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/copperbooks/recon/internal/cli"
	"github.com/copperbooks/recon/internal/model"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show queue depths and recent failures",
		Long: `Operator board for the job queue: per-queue counts by status, plus the
most recent terminally failed jobs with their last error.`,
		RunE: runJobs,
	}

	cmd.Flags().Int("failed-limit", 10, "maximum number of failed jobs to show")

	return cmd
}

func runJobs(cmd *cobra.Command, _ []string) error {
	failedLimit, _ := cmd.Flags().GetInt("failed-limit")

	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	depths, err := store.QueueDepths(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue depths: %w", err)
	}

	fmt.Println(cli.FormatTitle("Job Queue"))

	if len(depths) == 0 {
		fmt.Println(cli.FormatInfo("No jobs in any queue"))
		return nil
	}

	header := cli.TableHeaderStyle.Render(fmt.Sprintf("%-16s %-12s %8s", "QUEUE", "STATUS", "COUNT"))
	fmt.Println(header)
	for _, d := range depths {
		line := fmt.Sprintf("%-16s %-12s %8d", d.Queue, d.Status, d.Count)
		fmt.Println(styleForStatus(d.Status).Render(line))
	}

	failed, err := store.ListFailedJobs(ctx, failedLimit)
	if err != nil {
		return fmt.Errorf("failed to list failed jobs: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println(cli.FormatWarning(fmt.Sprintf("%d recently failed job(s)", len(failed))))
	for i := range failed {
		job := &failed[i]
		age := ""
		if job.FinishedAt != nil {
			age = formatDuration(time.Since(*job.FinishedAt)) + " ago"
		}
		fmt.Printf("  %s  %s  %s %s\n",
			cli.SubtleStyle.Render(job.ID),
			job.Type,
			cli.ErrorStyle.Render(firstLine(job.LastError)),
			cli.SubtleStyle.Render(age),
		)
	}

	return nil
}

func styleForStatus(status model.JobStatus) lipgloss.Style {
	switch status {
	case model.JobCompleted:
		return cli.SuccessStyle
	case model.JobFailed:
		return cli.ErrorStyle
	case model.JobActive:
		return cli.InfoStyle
	default:
		return cli.TableCellStyle
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
