package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codedebt/guardian/internal/pipeline"
	"github.com/codedebt/guardian/internal/types"
)

var autopilotCategories []string

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Run a change-scoped pass suitable for CI",
	Long: `Run the pipeline scoped to the files touched by the most recent
commit on the default branch, restricted to an allowlisted set of debt
categories. This is the conservative mode meant to run unattended after
every merge.

Categories: security, maintainability, performance, code-smell.

Example:
  guardian autopilot --repo myorg/myservice
  guardian autopilot --categories security,maintainability`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := requireRepository()
		if err != nil {
			return err
		}

		categories, err := parseCategories(autopilotCategories)
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

		report, err := p.Run(cmd.Context(), repo, policy, pipeline.Options{
			ChangeScoped: true,
			Categories:   categories,
		})
		if err != nil {
			return err
		}

		printRunReport(report, policy)
		return nil
	},
}

func init() {
	autopilotCmd.Flags().StringSliceVar(&autopilotCategories, "categories", []string{"security"},
		"debt categories eligible for dispatch")
	autopilotCmd.Flags().StringVar(&runPolicyFile, "policy-file", "", "YAML dispatch policy file")
	autopilotCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report what would be dispatched without opening PRs")
	rootCmd.AddCommand(autopilotCmd)
}

func parseCategories(names []string) ([]types.Category, error) {
	categories := make([]types.Category, 0, len(names))
	for _, name := range names {
		c := types.Category(name)
		if !c.IsValid() {
			return nil, fmt.Errorf("invalid category %q", name)
		}
		categories = append(categories, c)
	}
	return categories, nil
}
