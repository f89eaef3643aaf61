package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codedebt/guardian/internal/storage"
)

var reportFingerprint string

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show a stored run report or an item's dispatch history",
	Long: `Show the full stored report for a run, or with --fingerprint the
complete dispatch audit trail for one debt item.

Example:
  guardian report 2f1c...            # full report for one run
  guardian report --fingerprint ab12cd34ef567890`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if reportFingerprint != "" {
			repo, err := requireRepository()
			if err != nil {
				return err
			}
			return printDispatchHistory(cmd, repo)
		}

		if len(args) == 0 {
			return fmt.Errorf("provide a run id or --fingerprint")
		}

		report, err := store.GetRunReport(ctx, args[0])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no run %q recorded", args[0])
			}
			return err
		}

		printRunReport(report, cfg.Policy)
		return nil
	},
}

func printDispatchHistory(cmd *cobra.Command, repo string) error {
	records, err := store.GetDispatchHistory(cmd.Context(), repo, reportFingerprint)
	if err != nil {
		return fmt.Errorf("loading dispatch history: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Dispatch History ==="))
	fmt.Printf("  Repository:  %s\n", repo)
	fmt.Printf("  Fingerprint: %s\n\n", reportFingerprint)

	if len(records) == 0 {
		fmt.Printf("  %s\n\n", gray("No dispatch activity recorded"))
		return nil
	}
	for _, rec := range records {
		suffix := ""
		if rec.DryRun {
			suffix = gray(" (dry run)")
		}
		fmt.Printf("  %s  %-26s run %s%s\n",
			rec.CreatedAt.Format(time.RFC3339), rec.Outcome, gray(rec.RunID), suffix)
		if rec.PRURL != "" {
			fmt.Printf("      PR #%d: %s\n", rec.PRNumber, rec.PRURL)
		}
	}
	fmt.Println()
	return nil
}

func init() {
	reportCmd.Flags().StringVar(&reportFingerprint, "fingerprint", "", "show dispatch history for this item fingerprint")
	rootCmd.AddCommand(reportCmd)
}
