package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and open dispatch quota",
	Long:  `Display recent pipeline runs for the repository with their outcome counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		repo, err := requireRepository()
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Guardian Status ==="))
		fmt.Printf("  Repository: %s\n\n", repo)

		created, err := store.CountCreatedSince(ctx, repo, time.Now().Add(-24*time.Hour))
		if err != nil {
			return fmt.Errorf("counting recent dispatches: %w", err)
		}
		fmt.Printf("%s\n", yellow("Daily quota:"))
		remaining := cfg.Policy.MaxPerDay - created
		if remaining < 0 {
			remaining = 0
		}
		fmt.Printf("  PRs opened in last 24h: %d (quota %d, %s remaining)\n\n",
			created, cfg.Policy.MaxPerDay, green(fmt.Sprintf("%d", remaining)))

		summaries, err := store.ListRunSummaries(ctx, repo, statusLimit)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}

		fmt.Printf("%s\n", yellow("Recent runs:"))
		if len(summaries) == 0 {
			fmt.Printf("  %s\n", gray("No runs recorded"))
		}
		for _, s := range summaries {
			fmt.Printf("  %s  %s\n", s.StartedAt.Format("2006-01-02 15:04:05"), gray(s.RunID))
			fmt.Printf("    detected %d, proposed %d, accepted %d, dispatched %s\n",
				s.Detected, s.Proposed, s.Accepted, green(fmt.Sprintf("%d", s.Dispatched)))
			fmt.Printf("    deferred cost $%.2f now vs $%.2f later (%s)\n",
				s.TotalCostNow, s.TotalCostLate, s.Duration.Round(time.Millisecond))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
