package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedebt/guardian/internal/config"
	"github.com/codedebt/guardian/internal/types"
)

func resetPolicyFlags() {
	runPolicyFile = ""
	runMaxPRs = 0
	runMaxPerDay = 0
	runDryRun = false
	runAllowNonDraft = false
}

func TestResolvePolicyDefaults(t *testing.T) {
	resetPolicyFlags()
	cfg = config.Default()

	policy, err := resolvePolicy()
	require.NoError(t, err)
	assert.Equal(t, cfg.Policy, policy)
	assert.True(t, policy.EffectiveDraft())
}

func TestResolvePolicyFlagOverrides(t *testing.T) {
	resetPolicyFlags()
	cfg = config.Default()
	runMaxPRs = 1
	runDryRun = true
	runAllowNonDraft = true

	policy, err := resolvePolicy()
	require.NoError(t, err)
	assert.Equal(t, 1, policy.MaxPerRun)
	assert.True(t, policy.DryRun)
	assert.False(t, policy.EffectiveDraft())
}

func TestResolvePolicyRejectsInvalid(t *testing.T) {
	resetPolicyFlags()
	cfg = config.Default()
	cfg.Policy.MaxPerRun = -1

	_, err := resolvePolicy()
	assert.Error(t, err)
}

func TestParseCategories(t *testing.T) {
	categories, err := parseCategories([]string{"security", "code-smell"})
	require.NoError(t, err)
	assert.Equal(t, []types.Category{types.CategorySecurity, types.CategoryCodeSmell}, categories)

	_, err = parseCategories([]string{"velocity"})
	assert.Error(t, err)
}
