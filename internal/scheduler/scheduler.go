// Package scheduler is the dispatch stage: it takes validated, ranked fix
// candidates and turns at most a policy-bounded number of them into pull
// requests, exactly once per debt fingerprint.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/codedebt/guardian/internal/storage"
	"github.com/codedebt/guardian/internal/types"
	"github.com/codedebt/guardian/internal/vcs"
)

// Config bounds how fast the scheduler talks to the VCS host.
type Config struct {
	// PRsPerMinute throttles PR creation (default: 2).
	PRsPerMinute float64
	// Burst is the rate limiter burst size (default: 1).
	Burst int
	// ClaimStaleAfter is how long a pending claim from another run is
	// honored before being treated as abandoned (default: 30m).
	ClaimStaleAfter time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PRsPerMinute:    2,
		Burst:           1,
		ClaimStaleAfter: 30 * time.Minute,
	}
}

// Candidate is one item that survived ranking, proposal, and validation
// and is now offered for dispatch.
type Candidate struct {
	Item       *types.DebtItem
	Proposal   *types.FixProposal
	Validation *types.ValidationResult
	Interest   *types.InterestReport
}

// Result is the dispatch disposition of one candidate. Either Record is
// set (an outcome was committed) or Deferred is true (transient host
// failure, the fingerprint stays re-offerable).
type Result struct {
	Candidate *Candidate
	Record    *types.DispatchRecord
	Deferred  bool
	Err       error
}

// Scheduler drives the dispatch stage.
type Scheduler struct {
	store   storage.Storage
	host    vcs.Client
	limiter *rate.Limiter
	cfg     Config
}

// New creates a scheduler.
func New(store storage.Storage, host vcs.Client, cfg Config) *Scheduler {
	if cfg.PRsPerMinute <= 0 {
		cfg.PRsPerMinute = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ClaimStaleAfter <= 0 {
		cfg.ClaimStaleAfter = 30 * time.Minute
	}
	return &Scheduler{
		store:   store,
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(cfg.PRsPerMinute/60), cfg.Burst),
		cfg:     cfg,
	}
}

// Dispatch processes candidates in the order given (which is the run's
// ranked order). It returns one Result per candidate. An error return
// means the store failed and the run must abort; host failures never
// surface here, they defer individual candidates instead.
func (s *Scheduler) Dispatch(ctx context.Context, repository, runID string, candidates []*Candidate, policy types.DispatchPolicy) ([]*Result, error) {
	if err := policy.Validate(); err != nil {
		return nil, types.ContractViolationf("invalid dispatch policy: %v", err)
	}

	// Daily quota is a rolling 24h window over real PR creations.
	remainingDay := -1 // unlimited
	if policy.MaxPerDay > 0 {
		created, err := s.store.CountCreatedSince(ctx, repository, time.Now().Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("checking daily quota: %w", err)
		}
		remainingDay = policy.MaxPerDay - created
		if remainingDay < 0 {
			remainingDay = 0
		}
	}

	createdThisRun := 0
	quotaExhausted := false
	results := make([]*Result, 0, len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := &Result{Candidate: c}
		results = append(results, res)

		// Checks apply in order: duplicate, then validation, then quota.
		// An already-dispatched item reads as skipped-duplicate even when
		// its verdict is stale or the quota is gone.
		active, err := s.store.HasActiveDispatch(ctx, repository, c.Item.Fingerprint)
		if err != nil {
			return results, fmt.Errorf("checking active dispatch: %w", err)
		}
		if active {
			if err := s.record(ctx, res, repository, runID, c, types.OutcomeSkippedDuplicate, policy.DryRun); err != nil {
				return results, err
			}
			continue
		}

		if !c.Validation.Accepted() {
			if err := s.record(ctx, res, repository, runID, c, types.OutcomeSkippedValidationFailed, policy.DryRun); err != nil {
				return results, err
			}
			continue
		}

		// Quota short-circuit: once exhausted, every remaining candidate
		// is skipped without touching the host or the claim table.
		if quotaExhausted ||
			(policy.MaxPerRun > 0 && createdThisRun >= policy.MaxPerRun) ||
			(remainingDay == 0) {
			quotaExhausted = true
			if err := s.record(ctx, res, repository, runID, c, types.OutcomeSkippedQuota, policy.DryRun); err != nil {
				return results, err
			}
			continue
		}

		if policy.DryRun {
			// Dry runs consume per-run quota so the report mirrors a real
			// run, but they never claim or count against the day.
			if err := s.record(ctx, res, repository, runID, c, types.OutcomeCreated, true); err != nil {
				return results, err
			}
			createdThisRun++
			continue
		}

		outcome, err := s.dispatchOne(ctx, res, repository, runID, c, policy)
		if err != nil {
			return results, err
		}
		if outcome == types.OutcomeCreated {
			createdThisRun++
			if remainingDay > 0 {
				remainingDay--
			}
		}
	}
	return results, nil
}

// dispatchOne claims the fingerprint, opens the PR, and commits the
// outcome. Transient host failures release the claim and defer.
func (s *Scheduler) dispatchOne(ctx context.Context, res *Result, repository, runID string, c *Candidate, policy types.DispatchPolicy) (types.DispatchOutcome, error) {
	err := s.store.ClaimDispatch(ctx, repository, c.Item.Fingerprint, runID, s.cfg.ClaimStaleAfter)
	switch {
	case errors.Is(err, storage.ErrAlreadyDispatched), errors.Is(err, storage.ErrClaimHeld):
		if err := s.record(ctx, res, repository, runID, c, types.OutcomeSkippedDuplicate, false); err != nil {
			return "", err
		}
		return types.OutcomeSkippedDuplicate, nil
	case err != nil:
		return "", fmt.Errorf("claiming dispatch: %w", err)
	}

	releaseAndDefer := func(cause error) {
		if relErr := s.store.ReleaseDispatch(ctx, repository, c.Item.Fingerprint, runID); relErr != nil {
			cause = errors.Join(cause, relErr)
		}
		res.Deferred = true
		res.Err = cause
	}

	if err := s.limiter.Wait(ctx); err != nil {
		releaseAndDefer(err)
		return "", nil
	}

	pr, err := s.host.OpenFixPullRequest(ctx, &vcs.FixRequest{
		Item:     c.Item,
		Proposal: c.Proposal,
		Interest: c.Interest,
		RunID:    runID,
		Draft:    policy.EffectiveDraft(),
	})
	if err != nil {
		// Whether transient or not, nothing was committed: release the
		// claim so the fingerprint stays re-offerable next run.
		releaseAndDefer(err)
		return "", nil
	}

	rec := &types.DispatchRecord{
		Repository:  repository,
		Fingerprint: c.Item.Fingerprint,
		RunID:       runID,
		Outcome:     types.OutcomeCreated,
		PRNumber:    pr.Number,
		PRURL:       pr.URL,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CompleteDispatch(ctx, rec); err != nil {
		return "", fmt.Errorf("completing dispatch: %w", err)
	}
	res.Record = rec
	return types.OutcomeCreated, nil
}

// record commits a non-created outcome to the audit trail and attaches it
// to the result.
func (s *Scheduler) record(ctx context.Context, res *Result, repository, runID string, c *Candidate, outcome types.DispatchOutcome, dryRun bool) error {
	rec := &types.DispatchRecord{
		Repository:  repository,
		Fingerprint: c.Item.Fingerprint,
		RunID:       runID,
		Outcome:     outcome,
		DryRun:      dryRun,
		CreatedAt:   time.Now(),
	}
	if err := s.store.RecordDispatch(ctx, rec); err != nil {
		return fmt.Errorf("recording dispatch outcome: %w", err)
	}
	res.Record = rec
	return nil
}
