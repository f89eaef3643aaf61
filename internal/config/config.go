// Package config loads guardian's runtime configuration from defaults,
// an optional config file, and GUARDIAN_* environment variables, in
// ascending precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/codedebt/guardian/internal/types"
)

// Config is everything the CLI wires into the pipeline.
type Config struct {
	// Repository is the default "owner/name" target.
	Repository string `mapstructure:"repository"`
	// DBPath is the SQLite state database location.
	DBPath string `mapstructure:"db_path"`

	// GitHubToken authenticates PR creation. Empty means read-only access.
	GitHubToken string `mapstructure:"github_token"`
	// Model overrides the completion model for generated fixes.
	Model string `mapstructure:"model"`

	// HourlyRate and HorizonQuarters parameterize the interest model.
	HourlyRate      float64 `mapstructure:"hourly_rate"`
	HorizonQuarters int     `mapstructure:"horizon_quarters"`

	// PRsPerMinute throttles dispatch against the VCS host.
	PRsPerMinute float64 `mapstructure:"prs_per_minute"`

	Policy types.DispatchPolicy `mapstructure:"policy"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:          ".guardian/guardian.db",
		HourlyRate:      50,
		HorizonQuarters: 1,
		PRsPerMinute:    2,
		Policy: types.DispatchPolicy{
			MaxPerRun: 3,
			MaxPerDay: 10,
			DraftOnly: true,
		},
	}
}

// Load builds the configuration. An empty cfgFile skips file loading; the
// file may be YAML, TOML, or JSON (anything viper reads).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv can see it at Unmarshal.
	v.SetDefault("repository", "")
	v.SetDefault("github_token", "")
	v.SetDefault("model", "")
	v.SetDefault("db_path", ".guardian/guardian.db")
	v.SetDefault("hourly_rate", 50)
	v.SetDefault("horizon_quarters", 1)
	v.SetDefault("prs_per_minute", 2)
	v.SetDefault("policy.max_per_run", 3)
	v.SetDefault("policy.max_per_day", 10)
	v.SetDefault("policy.draft_only", true)
	v.SetDefault("policy.allow_non_draft", false)
	v.SetDefault("policy.dry_run", false)

	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the pipeline would reject
// later anyway.
func (c *Config) Validate() error {
	if c.HourlyRate <= 0 {
		return fmt.Errorf("hourly_rate must be positive (got %g)", c.HourlyRate)
	}
	if c.HorizonQuarters < 1 {
		return fmt.Errorf("horizon_quarters must be at least 1 (got %d)", c.HorizonQuarters)
	}
	if c.PRsPerMinute <= 0 {
		return fmt.Errorf("prs_per_minute must be positive (got %g)", c.PRsPerMinute)
	}
	return c.Policy.Validate()
}

// policyFile is the on-disk shape of a per-repository dispatch policy.
type policyFile struct {
	MaxPerRun     int  `yaml:"max_per_run"`
	MaxPerDay     int  `yaml:"max_per_day"`
	DraftOnly     bool `yaml:"draft_only"`
	AllowNonDraft bool `yaml:"allow_non_draft"`
	DryRun        bool `yaml:"dry_run"`
}

// LoadPolicyFile reads a standalone dispatch-policy YAML file. Teams keep
// these next to the repositories guardian watches, separate from the
// operator config.
func LoadPolicyFile(path string) (types.DispatchPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.DispatchPolicy{}, fmt.Errorf("reading policy file: %w", err)
	}

	// Defaults match the built-in policy; the file overrides explicitly.
	pf := policyFile{MaxPerRun: 3, MaxPerDay: 10, DraftOnly: true}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return types.DispatchPolicy{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	policy := types.DispatchPolicy{
		MaxPerRun:     pf.MaxPerRun,
		MaxPerDay:     pf.MaxPerDay,
		DraftOnly:     pf.DraftOnly,
		AllowNonDraft: pf.AllowNonDraft,
		DryRun:        pf.DryRun,
	}
	if err := policy.Validate(); err != nil {
		return types.DispatchPolicy{}, fmt.Errorf("invalid policy in %s: %w", path, err)
	}
	return policy, nil
}
