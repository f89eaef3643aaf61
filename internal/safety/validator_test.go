package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedebt/guardian/internal/types"
)

const sampleFile = `import os

def load_config(path):
    with open(path) as f:
        return f.read()

def fetch(url):
    try:
        return get(url)
    except:
        pass

class Worker:
    def run(self):
        return None
`

func sampleItem(line int, category types.Category) *types.DebtItem {
	return &types.DebtItem{
		Repository:  "octocat/hello",
		FilePath:    "app.py",
		Line:        line,
		Category:    category,
		Severity:    types.SeverityMedium,
		Description: "test",
		Fingerprint: types.NewFingerprint("app.py", line, category),
	}
}

func proposal(before, after string) *types.FixProposal {
	return &types.FixProposal{
		Fingerprint: "fp",
		FilePath:    "app.py",
		BeforeCode:  before,
		AfterCode:   after,
		Source:      types.SourceAIGenerated,
		Effort:      types.EffortForSeverity(types.SeverityMedium),
	}
}

func TestValidateAcceptsCleanFix(t *testing.T) {
	v := NewValidator(nil)
	p := proposal(
		"    except:\n        pass",
		"    except ConnectionError as e:\n        logger.warning(\"fetch failed: %s\", e)\n        return None",
	)

	result := v.Validate(sampleItem(10, types.CategoryCodeSmell), p, sampleFile)
	assert.Equal(t, types.ValidationAccepted, result.State)
	assert.Empty(t, result.Reason)
}

func TestValidateRejectsSyntaxBreakage(t *testing.T) {
	v := NewValidator(nil)
	p := proposal(
		"def fetch(url):",
		"def fetch(url:", // unbalanced paren
	)

	result := v.Validate(sampleItem(7, types.CategoryCodeSmell), p, sampleFile)
	require.Equal(t, types.ValidationRejected, result.State)
	assert.Equal(t, types.RejectSyntaxInvalid, result.Reason)
}

func TestValidateRejectsDeletedUnrelatedFunction(t *testing.T) {
	v := NewValidator(nil)
	// Patch removes load_config entirely while targeting the bare except
	// at line 10: an unrelated deletion.
	p := proposal(
		"def load_config(path):\n    with open(path) as f:\n        return f.read()\n",
		"",
	)

	result := v.Validate(sampleItem(10, types.CategoryCodeSmell), p, sampleFile)
	require.Equal(t, types.ValidationRejected, result.State)
	assert.Equal(t, types.RejectStructureChanged, result.Reason)
	assert.Contains(t, result.Detail, "load_config")
}

func TestValidateAllowsRemovingTheTargetConstruct(t *testing.T) {
	v := NewValidator(nil)
	// The debt item points at load_config's declaration line; removing
	// that construct is the fix.
	p := proposal(
		"def load_config(path):\n    with open(path) as f:\n        return f.read()\n",
		"",
	)

	result := v.Validate(sampleItem(3, types.CategoryMaintainability), p, sampleFile)
	assert.Equal(t, types.ValidationAccepted, result.State, "detail: %s", result.Detail)
}

func TestValidateRejectsIntroducedDangerousPatterns(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name  string
		after string
	}{
		{"eval", "        return eval(raw)"},
		{"os.system", "        return os.system(cmd)"},
		{"shell injection", "        return subprocess.run(cmd, shell=True)"},
		{"hardcoded secret", "        api_key = \"sk-live-123456\"\n        return get(url, api_key)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := proposal("        return get(url)", tt.after)
			result := v.Validate(sampleItem(9, types.CategorySecurity), p, sampleFile)
			require.Equal(t, types.ValidationRejected, result.State)
			assert.Equal(t, types.RejectDangerousPattern, result.Reason)
		})
	}
}

func TestValidateAllowsEnvVarCredentialFix(t *testing.T) {
	original := `import os

password = "hunter2"

def connect():
    return dial(password)
`
	v := NewValidator(nil)
	p := proposal(
		`password = "hunter2"`,
		`password = os.environ["DB_PASSWORD"]`,
	)
	result := v.Validate(sampleItem(3, types.CategorySecurity), p, original)
	assert.Equal(t, types.ValidationAccepted, result.State, "detail: %s", result.Detail)
}

func TestValidateRejectsPatchAgainstWrongFile(t *testing.T) {
	v := NewValidator(nil)
	p := proposal("def does_not_exist():", "def replacement():")

	result := v.Validate(sampleItem(1, types.CategoryCodeSmell), p, sampleFile)
	require.Equal(t, types.ValidationRejected, result.State)
	assert.Equal(t, types.RejectStructureChanged, result.Reason)
	assert.Contains(t, result.Detail, "does not apply")
}

func TestValidateIsDeterministic(t *testing.T) {
	v := NewValidator(nil)
	p := proposal("    except:\n        pass", "    except ValueError:\n        raise")
	item := sampleItem(10, types.CategoryCodeSmell)

	first := v.Validate(item, p, sampleFile)
	for i := 0; i < 5; i++ {
		again := v.Validate(item, p, sampleFile)
		assert.Equal(t, first.State, again.State)
		assert.Equal(t, first.Reason, again.Reason)
		assert.Equal(t, first.ProposalHash, again.ProposalHash)
	}
}

func TestPythonAnalyzerSyntax(t *testing.T) {
	a := NewPythonAnalyzer()

	assert.NoError(t, a.CheckSyntax(sampleFile))
	assert.NoError(t, a.CheckSyntax("x = \"(unclosed in string\"\n"))
	assert.NoError(t, a.CheckSyntax("\"\"\"docstring with ( and [ inside\"\"\"\nx = 1\n"))
	assert.NoError(t, a.CheckSyntax("# comment with ( bracket\nx = 1\n"))

	assert.Error(t, a.CheckSyntax(""), "empty file")
	assert.Error(t, a.CheckSyntax("def f(:\n    pass\n"), "unbalanced paren")
	assert.Error(t, a.CheckSyntax("x = [1, 2\n"), "unclosed bracket")
	assert.Error(t, a.CheckSyntax("def f():\n"), "header with no body")
	assert.Error(t, a.CheckSyntax("if x:\nreturn 1\n"), "body not indented")
}

func TestPythonAnalyzerSignatures(t *testing.T) {
	a := NewPythonAnalyzer()
	sigs := a.TopLevelSignatures(sampleFile)

	names := make([]string, len(sigs))
	for i, s := range sigs {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"load_config", "fetch", "Worker"}, names,
		"nested methods are not top-level signatures")

	assert.Equal(t, 3, sigs[0].Line)
	assert.Equal(t, 7, sigs[1].Line)
	assert.Equal(t, 13, sigs[2].Line)
}
