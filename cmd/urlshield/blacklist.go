package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/urlshield/urlshield/internal/blacklist"
	"github.com/urlshield/urlshield/internal/cli"
	"github.com/urlshield/urlshield/internal/config"
)

func blacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage the blacklist ledger",
	}

	cmd.AddCommand(blacklistShowCmd())
	cmd.AddCommand(blacklistExportCmd())
	cmd.AddCommand(blacklistImportCmd())

	return cmd
}

func blacklistShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current blacklist entries",
		RunE: func(_ *cobra.Command, _ []string) error {
			ledger, err := openBlacklist()
			if err != nil {
				return err
			}

			entries := ledger.Entries()
			if len(entries) == 0 {
				slog.Info(cli.FormatInfo("Blacklist is empty"))
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  (%.2f)  %s", cli.StyleError(e.URL), e.Confidence, e.Reason)
				slog.Info(line)
			}
			slog.Info(cli.FormatInfo(fmt.Sprintf("%d blacklisted URLs", len(entries))))
			return nil
		},
	}
}

func blacklistExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the blacklist to a file",
		Long: `Write a compacted copy of the ledger. Format csv keeps the full
entries (one row per URL); format txt writes only the blacklisted main
domains, one per line.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			format, _ := cmd.Flags().GetString("format")
			output = config.ExpandPath(output)

			ledger, err := openBlacklist()
			if err != nil {
				return err
			}

			switch format {
			case "csv":
				err = ledger.ExportCSV(output)
			case "txt":
				err = ledger.ExportTXT(output)
			default:
				return fmt.Errorf("unknown export format: %s", format)
			}
			if err != nil {
				return err
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Exported %d entries to %s", ledger.Len(), output)))
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "blacklist-export.csv", "output file path")
	cmd.Flags().String("format", "csv", "export format (csv, txt)")

	return cmd
}

func blacklistImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge entries from another ledger file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			source, err := blacklist.Open(config.ExpandPath(args[0]))
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}

			ledger, err := openBlacklist()
			if err != nil {
				return err
			}

			added := 0
			for _, entry := range source.Entries() {
				wasNew, err := ledger.Append(entry)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", entry.URL, err)
				}
				if wasNew {
					added++
				}
			}

			slog.Info(cli.FormatSuccess(fmt.Sprintf("Imported %d new entries (%d total)", added, ledger.Len())))
			return nil
		},
	}
}
