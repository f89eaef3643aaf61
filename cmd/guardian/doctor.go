package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check guardian configuration and environment health",
	Long: `Run health checks to diagnose common configuration and environment issues.

This command checks for:
- State database accessibility
- Target repository configuration
- GitHub token (required to open PRs)
- Completion API key (optional; template fixes work without it)
- Repository reachability via the GitHub API

Exit codes:
  0 - All checks passed
  1 - One or more checks failed`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running guardian health checks...\n\n")
		var failures int

		// State database is already open if PersistentPreRunE succeeded.
		fmt.Printf("%s State database\n", cyan("→"))
		fmt.Printf("  %s Open at %s\n", green("✓"), cfg.DBPath)

		fmt.Printf("%s Target repository\n", cyan("→"))
		repo, err := requireRepository()
		if err != nil {
			failures++
			fmt.Printf("  %s %v\n", red("✗"), err)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), repo)
		}

		fmt.Printf("%s GitHub token\n", cyan("→"))
		if cfg.GitHubToken == "" {
			failures++
			fmt.Printf("  %s Not set (set GUARDIAN_GITHUB_TOKEN or GITHUB_TOKEN)\n", red("✗"))
		} else {
			fmt.Printf("  %s Present\n", green("✓"))
		}

		fmt.Printf("%s Completion API key\n", cyan("→"))
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			fmt.Printf("  %s Not set; only template fixes will be proposed\n", yellow("⚠"))
		} else {
			fmt.Printf("  %s Present\n", green("✓"))
		}

		if repo != "" {
			fmt.Printf("%s Repository reachability\n", cyan("→"))
			host, err := buildPipelineHost()
			if err != nil {
				failures++
				fmt.Printf("  %s %v\n", red("✗"), err)
			} else if branch, err := host.DefaultBranch(ctx, repo); err != nil {
				failures++
				fmt.Printf("  %s Cannot read %s: %v\n", red("✗"), repo, err)
			} else {
				fmt.Printf("  %s Default branch: %s\n", green("✓"), branch)
			}
		}

		fmt.Println()
		if failures > 0 {
			fmt.Printf("%s %d check(s) failed\n", red("✗"), failures)
			os.Exit(1)
		}
		fmt.Printf("%s All checks passed\n", green("✓"))
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
