// Command guardian scans a repository for technical debt, prices it, and
// opens draft pull requests with safe mechanical fixes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codedebt/guardian/internal/ai"
	"github.com/codedebt/guardian/internal/config"
	"github.com/codedebt/guardian/internal/cost"
	"github.com/codedebt/guardian/internal/pipeline"
	"github.com/codedebt/guardian/internal/proposal"
	"github.com/codedebt/guardian/internal/safety"
	"github.com/codedebt/guardian/internal/scan"
	"github.com/codedebt/guardian/internal/scheduler"
	"github.com/codedebt/guardian/internal/storage"
	"github.com/codedebt/guardian/internal/vcs"
)

var (
	cfgFile    string
	repository string
	dbPath     string

	cfg   *config.Config
	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Technical debt triage for Python repositories",
	Long: `Guardian detects technical debt in a repository, ranks it by priority,
generates mechanical fixes, validates them for safety, prices the cost of
deferring each one, and opens draft pull requests for the winners.

Nothing is ever merged automatically; every PR is a reviewable suggestion.

Configuration is read from an optional config file and GUARDIAN_*
environment variables (GUARDIAN_REPOSITORY, GUARDIAN_GITHUB_TOKEN, ...).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if repository != "" {
			cfg.Repository = repository
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}

		store, err = storage.NewStorage(cmd.Context(), &storage.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("opening state database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none)")
	rootCmd.PersistentFlags().StringVar(&repository, "repo", "", "target repository as owner/name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the state database (overrides config)")
}

// requireRepository validates that a target repository is configured.
func requireRepository() (string, error) {
	if cfg.Repository == "" {
		return "", fmt.Errorf("no repository configured (use --repo or GUARDIAN_REPOSITORY)")
	}
	if _, _, err := vcs.SplitRepository(cfg.Repository); err != nil {
		return "", err
	}
	return cfg.Repository, nil
}

// buildPipelineHost creates the VCS host client alone, for commands that
// only need read access.
func buildPipelineHost() (vcs.Client, error) {
	host, err := vcs.NewGitHub(cfg.GitHubToken)
	if err != nil {
		return nil, fmt.Errorf("creating github client: %w", err)
	}
	return host, nil
}

// buildPipeline wires the full triage pipeline from the loaded config.
// The completion client is optional: without ANTHROPIC_API_KEY the
// proposer falls back to templates only.
func buildPipeline() (*pipeline.Pipeline, error) {
	host, err := buildPipelineHost()
	if err != nil {
		return nil, err
	}

	var completer ai.Completer
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		client, err := ai.NewClient(&ai.Config{Model: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("creating completion client: %w", err)
		}
		completer = client
	}

	proposer, err := proposal.NewProposer(completer)
	if err != nil {
		return nil, fmt.Errorf("creating proposer: %w", err)
	}

	calculator, err := cost.NewCalculator(&cost.Config{
		HourlyRate:      cfg.HourlyRate,
		HorizonQuarters: cfg.HorizonQuarters,
	})
	if err != nil {
		return nil, err
	}

	schedCfg := scheduler.DefaultConfig()
	if cfg.PRsPerMinute > 0 {
		schedCfg.PRsPerMinute = cfg.PRsPerMinute
	}
	dispatcher := scheduler.New(store, host, schedCfg)

	return pipeline.New(store, host, scan.NewPatternScanner(),
		proposer, safety.NewValidator(nil), calculator, dispatcher), nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
