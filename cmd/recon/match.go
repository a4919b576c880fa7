package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/copperbooks/recon/internal/cli"
	"github.com/copperbooks/recon/internal/model"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match pending documents synchronously",
		Long: `Run the matching engine over pending documents for a team without going
through the job queue. Useful for backfills and for inspecting match
quality interactively.`,
		RunE: runMatch,
	}

	cmd.Flags().String("team", "", "team id (required)")
	cmd.Flags().Int("limit", 50, "maximum number of pending documents to process")
	_ = cmd.MarkFlagRequired("team")

	return cmd
}

func runMatch(cmd *cobra.Command, _ []string) error {
	teamID, _ := cmd.Flags().GetString("team")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	docs, err := store.ListPendingDocuments(ctx, teamID, limit)
	if err != nil {
		return fmt.Errorf("failed to list pending documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println(cli.FormatInfo("No pending documents for team " + teamID))
		return nil
	}

	matcher := buildMatcher(store)

	bar := progressbar.NewOptions(len(docs),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Matching documents...[reset]"),
	)

	var autoMatched, suggested, noMatch, failures int
	for i := range docs {
		outcome, matchErr := matcher.MatchDocument(ctx, docs[i].ID)
		_ = bar.Add(1)
		if matchErr != nil {
			failures++
			fmt.Fprintln(os.Stderr, cli.FormatError(fmt.Sprintf("document %s: %v", docs[i].ID, matchErr)))
			continue
		}
		switch outcome.Action {
		case model.ActionAutoMatched:
			autoMatched++
		case model.ActionSuggestionCreated:
			suggested++
		default:
			noMatch++
		}
	}
	fmt.Fprintln(os.Stderr)

	summary := fmt.Sprintf("%s auto-matched\n%s suggested\n%s no match\n%s failed",
		cli.SuccessStyle.Render(fmt.Sprintf("%4d", autoMatched)),
		cli.InfoStyle.Render(fmt.Sprintf("%4d", suggested)),
		cli.SubtleStyle.Render(fmt.Sprintf("%4d", noMatch)),
		cli.ErrorStyle.Render(fmt.Sprintf("%4d", failures)),
	)
	fmt.Println(cli.RenderBox(fmt.Sprintf("%s Matched %d document(s)", cli.LinkIcon, len(docs)), summary))

	if failures > 0 {
		return fmt.Errorf("%d document(s) failed to match", failures)
	}
	return nil
}
