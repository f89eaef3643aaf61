package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codedebt/guardian/internal/config"
	"github.com/codedebt/guardian/internal/cost"
	"github.com/codedebt/guardian/internal/pipeline"
	"github.com/codedebt/guardian/internal/types"
)

var (
	runPolicyFile    string
	runMaxPRs        int
	runMaxPerDay     int
	runDryRun        bool
	runAllowNonDraft bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full triage pass against the repository",
	Long: `Run the full pipeline once: scan the repository's default branch,
rank the findings, generate and validate fixes, price the cost of
deferring each one, and open draft pull requests for the accepted fixes
up to the configured quota.

Example:
  guardian run --repo myorg/myservice
  guardian run --dry-run                 # report what would be opened
  guardian run --max-prs 1 --policy-file policy.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := requireRepository()
		if err != nil {
			return err
		}

		policy, err := resolvePolicy()
		if err != nil {
			return err
		}

		p, err := buildPipeline()
		if err != nil {
			return err
		}

		report, err := p.Run(cmd.Context(), repo, policy, pipeline.Options{})
		if err != nil {
			return err
		}

		printRunReport(report, policy)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runPolicyFile, "policy-file", "", "YAML dispatch policy file")
	runCmd.Flags().IntVar(&runMaxPRs, "max-prs", 0, "cap on PRs opened this run (overrides policy)")
	runCmd.Flags().IntVar(&runMaxPerDay, "max-per-day", 0, "cap on PRs opened per rolling 24h (overrides policy)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report what would be dispatched without opening PRs")
	runCmd.Flags().BoolVar(&runAllowNonDraft, "allow-non-draft", false, "open ready-for-review PRs instead of drafts")
	rootCmd.AddCommand(runCmd)
}

// resolvePolicy layers the dispatch policy: config defaults, then the
// policy file, then explicit flags.
func resolvePolicy() (types.DispatchPolicy, error) {
	policy := cfg.Policy
	if runPolicyFile != "" {
		loaded, err := config.LoadPolicyFile(runPolicyFile)
		if err != nil {
			return policy, err
		}
		policy = loaded
	}
	if runMaxPRs > 0 {
		policy.MaxPerRun = runMaxPRs
	}
	if runMaxPerDay > 0 {
		policy.MaxPerDay = runMaxPerDay
	}
	if runDryRun {
		policy.DryRun = true
	}
	if runAllowNonDraft {
		policy.DraftOnly = false
		policy.AllowNonDraft = true
	}
	return policy, policy.Validate()
}

func printRunReport(report *types.RunReport, policy types.DispatchPolicy) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Guardian Run Report ==="))
	fmt.Printf("  Repository: %s\n", report.Repository)
	fmt.Printf("  Run:        %s\n", report.RunID)
	fmt.Printf("  Duration:   %s\n", report.Duration.Round(time.Millisecond))
	if policy.DryRun {
		fmt.Printf("  Mode:       %s\n", yellow("dry run (no PRs opened)"))
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Findings:"))
	fmt.Printf("  Detected:  %d\n", report.Detected)
	fmt.Printf("  Proposed:  %d\n", report.Proposed)
	fmt.Printf("  Accepted:  %d\n", report.Accepted)
	fmt.Printf("  No fix:    %d\n", report.NoProposal)
	fmt.Println()

	var interests []*types.InterestReport
	for _, item := range report.Items {
		if item.Interest != nil {
			interests = append(interests, item.Interest)
		}
	}
	roll := cost.Total(interests)
	fmt.Printf("%s\n", yellow("Estimated cost of deferring:"))
	fmt.Printf("  Fix now:      $%.2f\n", roll.TotalCostNow)
	fmt.Printf("  Fix later:    $%.2f\n", roll.TotalCostLate)
	fmt.Printf("  %s\n", green(roll.ROILine))
	fmt.Println()

	fmt.Printf("%s\n", yellow("Items (ranked):"))
	if len(report.Items) == 0 {
		fmt.Printf("  %s\n", gray("No debt detected"))
	}
	for _, item := range report.Items {
		icon, paint := outcomeStyle(item.Outcome, green, red, yellow, gray)
		fmt.Printf("  %s %-20s %s\n", paint(icon), paint(string(item.Outcome)), item.Item.Location())
		fmt.Printf("      %s %s\n", gray(string(item.Item.Severity)), item.Item.Description)
		if item.Dispatch != nil && item.Dispatch.PRURL != "" {
			fmt.Printf("      PR: %s\n", item.Dispatch.PRURL)
		}
		if item.Note != "" {
			fmt.Printf("      %s\n", gray(item.Note))
		}
	}
	fmt.Println()
}

func outcomeStyle(outcome types.ItemOutcome, green, red, yellow, gray func(...interface{}) string) (string, func(...interface{}) string) {
	switch outcome {
	case types.ItemDispatched:
		return "✓", green
	case types.ItemRejected:
		return "✗", red
	case types.ItemDispatchDeferred:
		return "⚠", yellow
	default:
		return "○", gray
	}
}
