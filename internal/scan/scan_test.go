package scan

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedebt/guardian/internal/types"
)

func scanOne(t *testing.T, path, content string) []*types.DebtItem {
	t.Helper()
	items, err := NewPatternScanner().Scan(context.Background(), &Snapshot{
		Repository: "acme/api",
		Files:      []File{{Path: path, Content: content}},
		TakenAt:    time.Now(),
	})
	require.NoError(t, err)
	return items
}

func byPattern(items []*types.DebtItem, pattern string) []*types.DebtItem {
	var out []*types.DebtItem
	for _, item := range items {
		if item.Pattern == pattern {
			out = append(out, item)
		}
	}
	return out
}

func TestDetectBareExcept(t *testing.T) {
	content := `def fetch(url):
    try:
        return get(url)
    except:
        pass
`
	items := byPattern(scanOne(t, "app/worker.py", content), PatternBareExcept)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, 4, item.Line)
	assert.Equal(t, types.SeverityMedium, item.Severity)
	assert.Equal(t, types.CategoryMaintainability, item.Category)
	assert.Equal(t, "    except:", item.Snippet)
	assert.NoError(t, item.Validate())
}

func TestDetectHardcodedCredential(t *testing.T) {
	content := `API_KEY = "sk-live-12345"
password = 'hunter2'
token = os.environ["TOKEN"]
timeout = "30s"
`
	items := byPattern(scanOne(t, "app/config.py", content), PatternHardcodedCredential)
	require.Len(t, items, 2, "environment reads and non-secrets stay clean")
	for _, item := range items {
		assert.Equal(t, types.SeverityCritical, item.Severity)
		assert.Equal(t, types.CategorySecurity, item.Category)
	}
	assert.Equal(t, 1, items[0].Line)
	assert.Equal(t, 2, items[1].Line)
}

func TestDetectMissingDocstring(t *testing.T) {
	content := `def documented():
    """Does things."""
    return 1

def undocumented():
    return 2

class Worker:
    def run(self):
        pass
`
	items := byPattern(scanOne(t, "app/svc.py", content), PatternMissingDocstring)
	require.Len(t, items, 2, "undocumented def and class, but not the documented def")
	assert.Equal(t, 5, items[0].Line)
	assert.Equal(t, 8, items[1].Line)
	assert.Equal(t, types.SeverityLow, items[0].Severity)
}

func TestDetectLongFunction(t *testing.T) {
	var b strings.Builder
	b.WriteString("def huge():\n")
	for i := 0; i < maxFunctionLines+5; i++ {
		fmt.Fprintf(&b, "    x%d = %d\n", i, i)
	}
	b.WriteString("\ndef small():\n    return 1\n")

	items := byPattern(scanOne(t, "app/big.py", b.String()), PatternLongFunction)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Line)
	assert.Contains(t, items[0].Description, "spans")
}

func TestDetectMissingTypeHints(t *testing.T) {
	content := `def plain(a, b):
    return a + b

def annotated(a: int) -> int:
    return a
`
	items := byPattern(scanOne(t, "app/m.py", content), PatternMissingTypeHints)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Line)
	assert.Equal(t, types.CategoryCodeSmell, items[0].Category)
}

func TestDetectTooManyParams(t *testing.T) {
	content := `def narrow(a, b, c):
    pass

def wide(a, b, c, d, e, f):
    pass

def tricky(a, b=(1, 2), *, c=None, d="x,y", e=1, f=2):
    pass
`
	items := byPattern(scanOne(t, "app/api.py", content), PatternTooManyParams)
	require.Len(t, items, 2)
	assert.Equal(t, 4, items[0].Line)
	assert.Equal(t, 7, items[1].Line, "commas inside defaults must not split params")
}

func TestDetectDuplicateBlocks(t *testing.T) {
	block := "    conn = connect()\n    conn.auth(user)\n    rows = conn.query(q)\n    conn.close()\n"
	content := "def first(user, q):\n" + block + "\ndef second(user, q):\n" + block
	items := byPattern(scanOne(t, "app/db.py", content), PatternDuplicateCode)
	require.Len(t, items, 1, "only the later occurrence is flagged")
	assert.Equal(t, 8, items[0].Line)
	assert.Contains(t, items[0].Description, "starting at 2")
}

func TestCollidingFindingsKeepHighestSeverity(t *testing.T) {
	// A long undocumented function hits missing-docstring and long-function
	// on the same def line; both are maintainability, so the fingerprints
	// collide. The medium-severity finding must survive.
	var b strings.Builder
	b.WriteString("def huge():\n")
	for i := 0; i < maxFunctionLines+5; i++ {
		fmt.Fprintf(&b, "    x%d = %d\n", i, i)
	}
	items := scanOne(t, "app/big.py", b.String())

	require.Len(t, byPattern(items, PatternLongFunction), 1)
	assert.Empty(t, byPattern(items, PatternMissingDocstring),
		"lower-severity colliding finding must be replaced, not duplicated")

	// Same collision in the code-smell category: a wide unannotated def
	// hits missing-type-hints and too-many-params on its def line.
	items = scanOne(t, "app/api.py", "def wide(a, b, c, d, e, f):\n    pass\n")
	require.Len(t, byPattern(items, PatternTooManyParams), 1)
	assert.Empty(t, byPattern(items, PatternMissingTypeHints))
}

func TestScanSkipsNonPythonFiles(t *testing.T) {
	items, err := NewPatternScanner().Scan(context.Background(), &Snapshot{
		Repository: "acme/api",
		Files: []File{
			{Path: "README.md", Content: "except:\n"},
			{Path: "app/worker.py", Content: "except:\n"},
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "app/worker.py", items[0].FilePath)
}

func TestScanFingerprintsAreStableAcrossRuns(t *testing.T) {
	content := "except:\n"
	first := scanOne(t, "app/worker.py", content)
	second := scanOne(t, "app/worker.py", content)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Fingerprint, second[0].Fingerprint)
	assert.NotEqual(t, first[0].ID, second[0].ID, "IDs are per-observation, fingerprints are identity")
}

func TestScanHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPatternScanner().Scan(ctx, &Snapshot{
		Repository: "acme/api",
		Files:      []File{{Path: "a.py", Content: "except:\n"}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
