package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/urlshield/urlshield/internal/cli"
	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [batch-id]",
		Short: "Show batch results",
		Long: `Without arguments, list all batches. With a batch ID, show that
batch's aggregate report and its blacklisted URLs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReport,
	}

	cmd.Flags().Bool("urls", false, "list every URL outcome in the batch")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listBatches(cmd)
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	batchID := args[0]
	report, err := store.GetComplianceReport(ctx, batchID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("no report for batch %s", batchID)
		}
		return err
	}

	content := fmt.Sprintf(`Status:       %s
Processed:    %d / %d
Blacklisted:  %s
Whitelisted:  %s
Needs review: %s
Filtered out: %d
Errored:      %d
Updated:      %s`,
		report.Status,
		report.Processed, report.Total,
		cli.StyleError(fmt.Sprintf("%d", report.Blacklisted)),
		cli.StyleSuccess(fmt.Sprintf("%d", report.Whitelisted)),
		cli.StyleWarning(fmt.Sprintf("%d", report.Review)),
		report.FilteredOut,
		report.Errored,
		report.UpdatedAt.Format(time.RFC3339))

	slog.Info(cli.RenderBox(fmt.Sprintf("Batch %s", batchID), content))

	reports, err := store.GetURLReportsByBatch(ctx, batchID)
	if err != nil {
		return err
	}

	showAll, _ := cmd.Flags().GetBool("urls")
	var lines []string
	for _, r := range reports {
		if !showAll && r.Category != model.CategoryBlacklist {
			continue
		}
		lines = append(lines, formatOutcome(&r))
	}
	if len(lines) > 0 {
		title := "Blacklisted URLs"
		if showAll {
			title = "URL outcomes"
		}
		slog.Info(cli.RenderBox(title, strings.Join(lines, "\n")))
	}
	return nil
}

func listBatches(cmd *cobra.Command) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	batches, err := store.ListBatches(cmd.Context())
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		slog.Info(cli.FormatInfo("No batches yet. Run 'urlshield process' first."))
		return nil
	}

	headerRow := cli.TableHeaderStyle.Render(
		fmt.Sprintf("%-36s  %-10s  %9s  %s", "BATCH", "STATUS", "PROCESSED", "CREATED"))
	rows := []string{headerRow}
	for _, b := range batches {
		rows = append(rows, cli.TableCellStyle.Render(
			fmt.Sprintf("%-36s  %-10s  %4d/%4d  %s",
				b.ID, b.Status, b.Processed, b.TotalURLs,
				b.CreatedAt.Format("2006-01-02 15:04"))))
	}
	slog.Info("\n" + strings.Join(rows, "\n"))
	return nil
}

func formatOutcome(r *model.URLReport) string {
	line := fmt.Sprintf("%s  %s (%.2f)", categoryBadge(r.Category), r.URL, r.Confidence)
	if len(r.Issues) > 0 {
		line += cli.SubtleStyle.Render("  [" + strings.Join(r.Issues, ", ") + "]")
	}
	return line
}

func categoryBadge(category model.Category) string {
	switch category {
	case model.CategoryBlacklist:
		return cli.StyleError("BLACK")
	case model.CategoryWhitelist:
		return cli.StyleSuccess("WHITE")
	default:
		return cli.StyleWarning("REVIEW")
	}
}
