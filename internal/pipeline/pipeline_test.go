package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedebt/guardian/internal/cost"
	"github.com/codedebt/guardian/internal/proposal"
	"github.com/codedebt/guardian/internal/safety"
	"github.com/codedebt/guardian/internal/scan"
	"github.com/codedebt/guardian/internal/scheduler"
	"github.com/codedebt/guardian/internal/storage"
	"github.com/codedebt/guardian/internal/types"
	"github.com/codedebt/guardian/internal/vcs"
)

// fakeHost serves snapshots from memory and counts opened PRs.
type fakeHost struct {
	mu          sync.Mutex
	files       map[string]string
	lastChanged []string
	failPR      error
	opened      []*vcs.FixRequest
	next        int
}

func (f *fakeHost) DefaultBranch(context.Context, string) (string, error) { return "main", nil }

func (f *fakeHost) ListFiles(context.Context, string, string) ([]string, error) {
	var paths []string
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *fakeHost) GetFileContent(_ context.Context, _, path, _ string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (f *fakeHost) LatestCommitFiles(context.Context, string) ([]string, error) {
	return f.lastChanged, nil
}

func (f *fakeHost) HistoryProfile(context.Context, string, string) (*types.HistoryProfile, error) {
	return &types.HistoryProfile{}, nil
}

func (f *fakeHost) OpenFixPullRequest(_ context.Context, req *vcs.FixRequest) (*vcs.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPR != nil {
		return nil, f.failPR
	}
	f.next++
	f.opened = append(f.opened, req)
	return &vcs.PullRequest{Number: f.next, URL: fmt.Sprintf("https://example.com/pull/%d", f.next)}, nil
}

func (f *fakeHost) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type stubCompleter struct{ reply string }

func (s *stubCompleter) Complete(context.Context, string) (string, error) {
	if s.reply == "" {
		return "", errors.New("no canned reply")
	}
	return s.reply, nil
}

const workerPy = `import os

API_KEY = "sk-live-12345"

def fetch(url):
    try:
        return get(url)
    except:
        pass
`

func newPipeline(t *testing.T, host *fakeHost, completer *stubCompleter) (*Pipeline, storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(),
		&storage.Config{Path: filepath.Join(t.TempDir(), "guardian.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var prop *proposal.Proposer
	if completer != nil {
		prop, err = proposal.NewProposer(completer)
	} else {
		prop, err = proposal.NewProposer(nil)
	}
	require.NoError(t, err)

	calc, err := cost.NewCalculator(cost.DefaultConfig())
	require.NoError(t, err)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.PRsPerMinute = 600000
	schedCfg.Burst = 100

	return New(store, host, scan.NewPatternScanner(), prop,
		safety.NewValidator(nil), calc,
		scheduler.New(store, host, schedCfg)), store
}

func draftPolicy(perRun int) types.DispatchPolicy {
	return types.DispatchPolicy{MaxPerRun: perRun, DraftOnly: true}
}

func outcomes(report *types.RunReport) map[types.ItemOutcome]int {
	m := make(map[types.ItemOutcome]int)
	for _, ir := range report.Items {
		m[ir.Outcome]++
	}
	return m
}

func TestRunEndToEnd(t *testing.T) {
	host := &fakeHost{files: map[string]string{"app/worker.py": workerPy}}
	p, store := newPipeline(t, host, nil)
	ctx := context.Background()

	report, err := p.Run(ctx, "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err)

	// credential, bare except, missing docstring, missing type hints
	assert.Equal(t, 4, report.Detected)
	assert.Equal(t, 4, report.Proposed)
	assert.Equal(t, 4, report.Accepted)
	assert.Zero(t, report.NoProposal)
	assert.Equal(t, 4, host.openedCount())
	assert.Equal(t, 4, report.Counts[types.OutcomeCreated])

	// Ranked order: the critical security item leads.
	first := report.Items[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, types.CategorySecurity, first.Item.Category)
	assert.Equal(t, types.ItemDispatched, first.Outcome)
	require.NotNil(t, first.Dispatch)
	assert.NotZero(t, first.Dispatch.PRNumber)

	// Every PR went out as a draft.
	for _, req := range host.opened {
		assert.True(t, req.Draft)
	}

	// Costs accumulated and the report was persisted.
	assert.Greater(t, report.TotalCostNow, 0.0)
	assert.GreaterOrEqual(t, report.TotalCostLate, report.TotalCostNow)

	// Run totals are the repo-level rollup of the per-item interest reports.
	var interests []*types.InterestReport
	for _, ir := range report.Items {
		require.NotNil(t, ir.Interest)
		interests = append(interests, ir.Interest)
	}
	roll := cost.Total(interests)
	assert.Equal(t, roll.TotalCostNow, report.TotalCostNow)
	assert.Equal(t, roll.TotalCostLate, report.TotalCostLate)
	assert.InDelta(t, roll.Savings, report.EstimatedSavings(), 0.01)

	persisted, err := store.GetRunReport(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Detected, persisted.Detected)

	// Detected items are durable.
	items, err := store.ListItems(ctx, "acme/api")
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	host := &fakeHost{files: map[string]string{"app/worker.py": workerPy}}
	p, store := newPipeline(t, host, nil)
	ctx := context.Background()

	first, err := p.Run(ctx, "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err)
	require.Equal(t, 4, host.openedCount())

	second, err := p.Run(ctx, "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, host.openedCount(), "unchanged snapshot must not open new PRs")
	assert.Equal(t, 4, second.Counts[types.OutcomeSkippedDuplicate])
	assert.Zero(t, second.Counts[types.OutcomeCreated])
	assert.Equal(t, first.Detected, second.Detected)

	// Still exactly four item rows: fingerprints de-duplicate detection.
	items, err := store.ListItems(ctx, "acme/api")
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestRunHonorsQuota(t *testing.T) {
	host := &fakeHost{files: map[string]string{"app/worker.py": workerPy}}
	p, _ := newPipeline(t, host, nil)

	report, err := p.Run(context.Background(), "acme/api", draftPolicy(2), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, host.openedCount())
	got := outcomes(report)
	assert.Equal(t, 2, got[types.ItemDispatched])
	assert.Equal(t, 2, got[types.ItemSkippedQuota])
}

func TestAutopilotScopesToChangedFilesAndCategories(t *testing.T) {
	host := &fakeHost{
		files: map[string]string{
			"app/worker.py": workerPy,
			"app/other.py":  "def other():\n    return 1\n",
		},
		lastChanged: []string{"app/worker.py"},
	}
	p, _ := newPipeline(t, host, nil)

	report, err := p.Run(context.Background(), "acme/api", draftPolicy(10), Options{
		ChangeScoped: true,
		Categories:   []types.Category{types.CategorySecurity},
	})
	require.NoError(t, err)

	// Only worker.py was scanned, and only its security item dispatched.
	assert.Equal(t, 4, report.Detected)
	got := outcomes(report)
	assert.Equal(t, 1, got[types.ItemDispatched])
	assert.Equal(t, 3, got[types.ItemFilteredPolicy])
	require.Equal(t, 1, host.openedCount())
	assert.Equal(t, types.CategorySecurity, host.opened[0].Item.Category)

	for _, ir := range report.Items {
		assert.NotEqual(t, "app/other.py", ir.Item.FilePath, "unchanged files are out of scope")
	}
}

func TestDangerousFallbackFixIsRejected(t *testing.T) {
	// One item with no template: the external generator proposes a fix
	// that introduces eval(), which the validator must catch.
	content := "def wide(a, b, c, d, e, f) -> int:\n    \"\"\"Documented.\"\"\"\n    return a\n"
	host := &fakeHost{files: map[string]string{"app/wide.py": content}}
	completer := &stubCompleter{reply: `{"before_code": "    return a\n", "after_code": "    return eval(a)\n", "rationale": "x"}`}
	p, store := newPipeline(t, host, completer)
	ctx := context.Background()

	report, err := p.Run(ctx, "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err)

	require.Equal(t, 1, report.Detected)
	assert.Equal(t, 1, report.Proposed)
	assert.Zero(t, report.Accepted)
	assert.Zero(t, host.openedCount())

	ir := report.Items[0]
	assert.Equal(t, types.ItemRejected, ir.Outcome)
	assert.Contains(t, ir.Note, "eval")
	require.NotNil(t, ir.Validation)
	assert.Equal(t, types.RejectDangerousPattern, ir.Validation.Reason)

	// The verdict is terminal and persisted for this patch.
	stored, err := store.GetValidationResult(ctx, ir.Item.Fingerprint, ir.Proposal.Hash())
	require.NoError(t, err)
	assert.Equal(t, types.ValidationRejected, stored.State)

	// The rejection is also part of the persisted dispatch audit trail.
	require.NotNil(t, ir.Dispatch)
	assert.Equal(t, types.OutcomeSkippedValidationFailed, ir.Dispatch.Outcome)
	history, err := store.GetDispatchHistory(ctx, "acme/api", ir.Item.Fingerprint)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.OutcomeSkippedValidationFailed, history[0].Outcome)
}

func TestNoProposalDegradesItem(t *testing.T) {
	// No template for too-many-params and no completer configured.
	content := "def wide(a, b, c, d, e, f) -> int:\n    \"\"\"Documented.\"\"\"\n    return a\n"
	host := &fakeHost{files: map[string]string{"app/wide.py": content}}
	p, _ := newPipeline(t, host, nil)

	report, err := p.Run(context.Background(), "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err)

	require.Equal(t, 1, report.Detected)
	assert.Equal(t, 1, report.NoProposal)
	assert.Equal(t, types.ItemNoFixAvailable, report.Items[0].Outcome)
	assert.Zero(t, host.openedCount())
}

func TestTransientPRFailureDefersAndRecovers(t *testing.T) {
	host := &fakeHost{
		files:  map[string]string{"app/worker.py": workerPy},
		failPR: types.Transient("open pull request", errors.New("503")),
	}
	p, _ := newPipeline(t, host, nil)
	ctx := context.Background()

	report, err := p.Run(ctx, "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err, "host trouble defers items, it does not abort the run")
	got := outcomes(report)
	assert.Equal(t, 4, got[types.ItemDispatchDeferred])
	assert.Zero(t, host.openedCount())

	// Host recovers: the same items dispatch on the next run.
	host.failPR = nil
	report, err = p.Run(ctx, "acme/api", draftPolicy(10), Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, host.openedCount())
	assert.Equal(t, 4, report.Counts[types.OutcomeCreated])
}

func TestSnapshotFailureAbortsRun(t *testing.T) {
	host := &fakeHost{
		files:       map[string]string{"app/worker.py": workerPy},
		lastChanged: []string{"app/missing.py"},
	}
	p, _ := newPipeline(t, host, nil)

	_, err := p.Run(context.Background(), "acme/api", draftPolicy(10), Options{ChangeScoped: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taking snapshot")
}
