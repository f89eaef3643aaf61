package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedebt/guardian/internal/storage"
	"github.com/codedebt/guardian/internal/types"
	"github.com/codedebt/guardian/internal/vcs"
)

// fakeHost counts PR creations and can be told to fail.
type fakeHost struct {
	mu      sync.Mutex
	opened  []*vcs.FixRequest
	failErr error
	next    int
}

func (f *fakeHost) OpenFixPullRequest(ctx context.Context, req *vcs.FixRequest) (*vcs.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.next++
	f.opened = append(f.opened, req)
	return &vcs.PullRequest{
		Number: f.next,
		URL:    fmt.Sprintf("https://github.com/acme/api/pull/%d", f.next),
		Branch: vcs.BranchName(req.Item.Fingerprint),
	}, nil
}

func (f *fakeHost) DefaultBranch(context.Context, string) (string, error) { return "main", nil }
func (f *fakeHost) ListFiles(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (f *fakeHost) GetFileContent(context.Context, string, string, string) (string, error) {
	return "", nil
}
func (f *fakeHost) LatestCommitFiles(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeHost) HistoryProfile(context.Context, string, string) (*types.HistoryProfile, error) {
	return &types.HistoryProfile{}, nil
}

func (f *fakeHost) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(),
		&storage.Config{Path: filepath.Join(t.TempDir(), "guardian.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PRsPerMinute = 600000
	cfg.Burst = 100
	return cfg
}

func candidate(n int, accepted bool) *Candidate {
	path := fmt.Sprintf("app/mod%d.py", n)
	item := &types.DebtItem{
		ID:          fmt.Sprintf("item-%d", n),
		Repository:  "acme/api",
		FilePath:    path,
		Line:        10,
		Category:    types.CategoryMaintainability,
		Severity:    types.SeverityMedium,
		Description: "bare except swallows errors",
		Pattern:     "bare-except",
		Fingerprint: types.NewFingerprint(path, 10, types.CategoryMaintainability),
	}
	prop := &types.FixProposal{
		Fingerprint: item.Fingerprint,
		FilePath:    path,
		BeforeCode:  "    except:\n",
		AfterCode:   "    except Exception:\n",
		TemplateID:  "remove-bare-except",
		Source:      types.SourceTemplate,
		Effort:      types.EffortForSeverity(item.Severity),
	}
	state := types.ValidationAccepted
	if !accepted {
		state = types.ValidationRejected
	}
	return &Candidate{
		Item:     item,
		Proposal: prop,
		Validation: &types.ValidationResult{
			Fingerprint:  item.Fingerprint,
			ProposalHash: prop.Hash(),
			State:        state,
			CheckedAt:    time.Now(),
		},
	}
}

func candidates(n int) []*Candidate {
	out := make([]*Candidate, n)
	for i := range out {
		out[i] = candidate(i, true)
	}
	return out
}

func policy(perRun, perDay int) types.DispatchPolicy {
	return types.DispatchPolicy{MaxPerRun: perRun, MaxPerDay: perDay, DraftOnly: true}
}

func TestDispatchRespectsPerRunQuota(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())

	results, err := s.Dispatch(context.Background(), "acme/api", "run-1", candidates(5), policy(3, 0))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, 3, host.openedCount(), "quota of 3 admits exactly the top 3")
	for i := 0; i < 3; i++ {
		require.NotNil(t, results[i].Record)
		assert.Equal(t, types.OutcomeCreated, results[i].Record.Outcome)
		assert.NotZero(t, results[i].Record.PRNumber)
	}
	for i := 3; i < 5; i++ {
		require.NotNil(t, results[i].Record)
		assert.Equal(t, types.OutcomeSkippedQuota, results[i].Record.Outcome)
	}
}

func TestDispatchDailyQuotaSpansRuns(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())
	ctx := context.Background()
	pol := policy(10, 3)

	cands := candidates(5)
	_, err := s.Dispatch(ctx, "acme/api", "run-1", cands[:2], pol)
	require.NoError(t, err)
	assert.Equal(t, 2, host.openedCount())

	// Second run the same day: only one slot left.
	results, err := s.Dispatch(ctx, "acme/api", "run-2", cands[2:], pol)
	require.NoError(t, err)
	assert.Equal(t, 3, host.openedCount())
	assert.Equal(t, types.OutcomeCreated, results[0].Record.Outcome)
	assert.Equal(t, types.OutcomeSkippedQuota, results[1].Record.Outcome)
	assert.Equal(t, types.OutcomeSkippedQuota, results[2].Record.Outcome)
}

func TestDispatchSkipsRejectedWithoutConsumingQuota(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())

	cands := []*Candidate{candidate(0, false), candidate(1, true)}
	results, err := s.Dispatch(context.Background(), "acme/api", "run-1", cands, policy(1, 0))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSkippedValidationFailed, results[0].Record.Outcome)
	assert.Equal(t, types.OutcomeCreated, results[1].Record.Outcome)
}

func TestDispatchSuppressesDuplicates(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())
	ctx := context.Background()

	c := candidate(0, true)
	_, err := s.Dispatch(ctx, "acme/api", "run-1", []*Candidate{c}, policy(5, 0))
	require.NoError(t, err)
	require.Equal(t, 1, host.openedCount())

	// Same fingerprint next run: active PR, no second dispatch.
	results, err := s.Dispatch(ctx, "acme/api", "run-2", []*Candidate{candidate(0, true)}, policy(5, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, host.openedCount())
	assert.Equal(t, types.OutcomeSkippedDuplicate, results[0].Record.Outcome)

	// Superseded (PR closed, debt resurfaced): dispatchable again.
	require.NoError(t, store.SupersedeDispatch(ctx, "acme/api", c.Item.Fingerprint))
	results, err = s.Dispatch(ctx, "acme/api", "run-3", []*Candidate{candidate(0, true)}, policy(5, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, host.openedCount())
	assert.Equal(t, types.OutcomeCreated, results[0].Record.Outcome)
}

func TestDispatchChecksDuplicateBeforeValidationAndQuota(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())
	ctx := context.Background()

	_, err := s.Dispatch(ctx, "acme/api", "run-1", []*Candidate{candidate(0, true)}, policy(5, 0))
	require.NoError(t, err)
	require.Equal(t, 1, host.openedCount())

	// Item 0 is already dispatched. Its stale rejected verdict and the
	// exhausted quota must both lose to the duplicate check, and a rejected
	// fresh item still reads as validation-failed past the quota.
	cands := []*Candidate{
		candidate(0, false), // duplicate with a rejected verdict
		candidate(1, true),  // consumes the whole per-run quota
		candidate(0, true),  // duplicate after quota exhaustion
		candidate(2, false), // rejected after quota exhaustion
		candidate(3, true),  // plain quota victim
	}
	results, err := s.Dispatch(ctx, "acme/api", "run-2", cands, policy(1, 0))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, types.OutcomeSkippedDuplicate, results[0].Record.Outcome)
	assert.Equal(t, types.OutcomeCreated, results[1].Record.Outcome)
	assert.Equal(t, types.OutcomeSkippedDuplicate, results[2].Record.Outcome)
	assert.Equal(t, types.OutcomeSkippedValidationFailed, results[3].Record.Outcome)
	assert.Equal(t, types.OutcomeSkippedQuota, results[4].Record.Outcome)
	assert.Equal(t, 2, host.openedCount())
}

func TestDispatchDryRunTouchesNothing(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())
	ctx := context.Background()

	pol := policy(2, 0)
	pol.DryRun = true
	results, err := s.Dispatch(ctx, "acme/api", "run-1", candidates(3), pol)
	require.NoError(t, err)

	assert.Zero(t, host.openedCount(), "dry run must not touch the host")
	assert.Equal(t, types.OutcomeCreated, results[0].Record.Outcome)
	assert.True(t, results[0].Record.DryRun)
	assert.Equal(t, types.OutcomeSkippedQuota, results[2].Record.Outcome, "dry run still models quota")

	// Nothing persisted that would block a real run.
	active, err := store.HasActiveDispatch(ctx, "acme/api", results[0].Candidate.Item.Fingerprint)
	require.NoError(t, err)
	assert.False(t, active)
	count, err := store.CountCreatedSince(ctx, "acme/api", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count, "dry-run creations never count against the daily quota")
}

func TestDispatchDraftInvariant(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	s := New(store, host, fastConfig())
	ctx := context.Background()

	// DraftOnly=false alone is not enough to open a real PR.
	pol := types.DispatchPolicy{MaxPerRun: 1, DraftOnly: false}
	_, err := s.Dispatch(ctx, "acme/api", "run-1", []*Candidate{candidate(0, true)}, pol)
	require.NoError(t, err)
	require.Equal(t, 1, host.openedCount())
	assert.True(t, host.opened[0].Draft, "non-draft requires the explicit override")

	pol.AllowNonDraft = true
	_, err = s.Dispatch(ctx, "acme/api", "run-2", []*Candidate{candidate(1, true)}, pol)
	require.NoError(t, err)
	require.Equal(t, 2, host.openedCount())
	assert.False(t, host.opened[1].Draft)
}

func TestDispatchDefersOnTransientHostFailure(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{failErr: types.Transient("open pull request", errors.New("503"))}
	s := New(store, host, fastConfig())
	ctx := context.Background()

	c := candidate(0, true)
	results, err := s.Dispatch(ctx, "acme/api", "run-1", []*Candidate{c}, policy(5, 0))
	require.NoError(t, err, "host failures defer items, they do not abort the run")
	require.Len(t, results, 1)
	assert.True(t, results[0].Deferred)
	assert.Nil(t, results[0].Record, "no outcome is committed for a deferred item")
	assert.True(t, types.IsTransient(results[0].Err))

	// The claim was released: the item is re-offerable and succeeds now.
	host.failErr = nil
	results, err = s.Dispatch(ctx, "acme/api", "run-2", []*Candidate{candidate(0, true)}, policy(5, 0))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCreated, results[0].Record.Outcome)
}

func TestConcurrentDispatchCreatesOnePR(t *testing.T) {
	store := newTestStore(t)
	host := &fakeHost{}
	ctx := context.Background()

	const runners = 4
	var wg sync.WaitGroup
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			s := New(store, host, fastConfig())
			_, err := s.Dispatch(ctx, "acme/api", runID, []*Candidate{candidate(0, true)}, policy(5, 0))
			assert.NoError(t, err)
		}(fmt.Sprintf("run-%d", i))
	}
	wg.Wait()

	assert.Equal(t, 1, host.openedCount(), "claims must admit exactly one creator per fingerprint")
}

func TestDispatchRejectsInvalidPolicy(t *testing.T) {
	store := newTestStore(t)
	s := New(store, &fakeHost{}, fastConfig())

	_, err := s.Dispatch(context.Background(), "acme/api", "run-1", nil,
		types.DispatchPolicy{MaxPerRun: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrContractViolation)
}
