// Package pipeline orchestrates one triage run end to end: snapshot,
// detection, ranking, fix proposal, safety validation, interest
// calculation, and dispatch. Stage results are persisted at each boundary
// so a crashed run never repeats completed PR work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codedebt/guardian/internal/cost"
	"github.com/codedebt/guardian/internal/priorities"
	"github.com/codedebt/guardian/internal/proposal"
	"github.com/codedebt/guardian/internal/safety"
	"github.com/codedebt/guardian/internal/scan"
	"github.com/codedebt/guardian/internal/scheduler"
	"github.com/codedebt/guardian/internal/storage"
	"github.com/codedebt/guardian/internal/types"
	"github.com/codedebt/guardian/internal/vcs"
)

// Dispatcher is the dispatch stage as the pipeline sees it.
type Dispatcher interface {
	Dispatch(ctx context.Context, repository, runID string, candidates []*scheduler.Candidate, policy types.DispatchPolicy) ([]*scheduler.Result, error)
}

// Options select the run mode.
type Options struct {
	// ChangeScoped restricts the snapshot to files touched by the most
	// recent commit (autopilot mode).
	ChangeScoped bool
	// Categories, when non-empty, is an allowlist: items in other
	// categories are reported as filtered and never dispatched.
	Categories []types.Category
}

// Pipeline wires the stages together. The proposer, validator, and
// calculator are pure collaborators; the store, host, and dispatcher own
// all side effects.
type Pipeline struct {
	store      storage.Storage
	host       vcs.Client
	scanner    scan.Scanner
	proposer   *proposal.Proposer
	validator  *safety.Validator
	calculator *cost.Calculator
	dispatcher Dispatcher
}

// New creates a pipeline.
func New(store storage.Storage, host vcs.Client, scanner scan.Scanner,
	proposer *proposal.Proposer, validator *safety.Validator,
	calculator *cost.Calculator, dispatcher Dispatcher) *Pipeline {
	return &Pipeline{
		store:      store,
		host:       host,
		scanner:    scanner,
		proposer:   proposer,
		validator:  validator,
		calculator: calculator,
		dispatcher: dispatcher,
	}
}

// Run executes one full triage run against the repository's current
// default-branch snapshot. Item-level trouble degrades that item's
// outcome; store and snapshot failures abort the run.
func (p *Pipeline) Run(ctx context.Context, repository string, policy types.DispatchPolicy, opts Options) (*types.RunReport, error) {
	runID := uuid.New().String()
	started := time.Now()

	snap, err := p.takeSnapshot(ctx, repository, opts)
	if err != nil {
		return nil, fmt.Errorf("taking snapshot of %s: %w", repository, err)
	}

	items, err := p.scanner.Scan(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", repository, err)
	}

	for _, item := range items {
		if err := p.store.UpsertItem(ctx, item); err != nil {
			return nil, fmt.Errorf("persisting detected items: %w", err)
		}
	}

	ranked, profiles, err := p.rank(ctx, repository, items)
	if err != nil {
		return nil, err
	}

	report := &types.RunReport{
		RunID:      runID,
		Repository: repository,
		StartedAt:  started,
		Detected:   len(items),
	}

	contents := make(map[string]string, len(snap.Files))
	for _, f := range snap.Files {
		contents[f.Path] = f.Content
	}

	byFingerprint := make(map[string]*types.ItemReport, len(ranked))
	var candidates []*scheduler.Candidate

	for i, r := range ranked {
		score := r.Score
		ir := &types.ItemReport{
			Item:     r.Item,
			Score:    &score,
			Rank:     i + 1,
			QuickWin: r.QuickWin,
			Outcome:  types.ItemDetectedOnly,
		}
		report.Items = append(report.Items, ir)
		byFingerprint[r.Item.Fingerprint] = ir

		if len(opts.Categories) > 0 && !categoryAllowed(r.Item.Category, opts.Categories) {
			ir.Outcome = types.ItemFilteredPolicy
			continue
		}

		cand, err := p.prepare(ctx, ir, contents[r.Item.FilePath], profiles[r.Item.FilePath], report)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			candidates = append(candidates, cand)
		}
	}

	roll := cost.Total(interestReports(report))
	report.TotalCostNow = roll.TotalCostNow
	report.TotalCostLate = roll.TotalCostLate

	results, err := p.dispatcher.Dispatch(ctx, repository, runID, candidates, policy)
	if err != nil {
		return nil, fmt.Errorf("dispatching: %w", err)
	}
	for _, res := range results {
		ir := byFingerprint[res.Candidate.Item.Fingerprint]
		if ir == nil {
			continue
		}
		switch {
		case res.Deferred:
			ir.Outcome = types.ItemDispatchDeferred
			if res.Err != nil {
				ir.Note = res.Err.Error()
			}
		case res.Record == nil:
			// Dispatch always commits a record when it does not defer.
			return nil, types.ContractViolationf("dispatch result for %s has neither record nor deferral", res.Candidate.Item.Fingerprint)
		default:
			ir.Dispatch = res.Record
			report.Count(res.Record.Outcome)
			switch res.Record.Outcome {
			case types.OutcomeCreated:
				ir.Outcome = types.ItemDispatched
			case types.OutcomeSkippedQuota:
				ir.Outcome = types.ItemSkippedQuota
			case types.OutcomeSkippedDuplicate:
				ir.Outcome = types.ItemSkippedDuplicate
			case types.OutcomeSkippedValidationFailed:
				ir.Outcome = types.ItemRejected
			}
		}
	}

	report.Duration = time.Since(started)
	if err := p.store.SaveRunReport(ctx, report); err != nil {
		return nil, fmt.Errorf("persisting run report: %w", err)
	}
	return report, nil
}

// takeSnapshot reads the file set the run will operate on. The snapshot is
// taken once; later stages never see newer content.
func (p *Pipeline) takeSnapshot(ctx context.Context, repository string, opts Options) (*scan.Snapshot, error) {
	ref, err := p.host.DefaultBranch(ctx, repository)
	if err != nil {
		return nil, err
	}

	var paths []string
	if opts.ChangeScoped {
		paths, err = p.host.LatestCommitFiles(ctx, repository)
	} else {
		paths, err = p.host.ListFiles(ctx, repository, ref)
	}
	if err != nil {
		return nil, err
	}

	snap := &scan.Snapshot{Repository: repository, Ref: ref, TakenAt: time.Now()}
	for _, path := range paths {
		if filepath.Ext(path) != ".py" {
			continue
		}
		content, err := p.host.GetFileContent(ctx, repository, path, ref)
		if err != nil {
			return nil, err
		}
		snap.Files = append(snap.Files, scan.File{Path: path, Content: content})
	}
	return snap, nil
}

// rank scores every item against its file's history and sorts. History
// lookups that fail leave an empty profile: the item still ranks, just
// without recency or churn boosts.
func (p *Pipeline) rank(ctx context.Context, repository string, items []*types.DebtItem) ([]priorities.Ranked, map[string]types.HistoryProfile, error) {
	now := time.Now()
	profiles := make(map[string]types.HistoryProfile)
	ranked := make([]priorities.Ranked, 0, len(items))

	for _, item := range items {
		profile, ok := profiles[item.FilePath]
		if !ok {
			if hp, err := p.host.HistoryProfile(ctx, repository, item.FilePath); err == nil && hp != nil {
				profile = *hp
			}
			profiles[item.FilePath] = profile
		}

		score, err := priorities.Score(item, priorities.Context{
			Now:             now,
			LastTouched:     profile.LastTouched,
			TouchCount:      profile.TouchCount,
			DistinctAuthors: profile.DistinctAuthors,
		})
		if err != nil {
			return nil, nil, err
		}
		ranked = append(ranked, priorities.Ranked{
			Item:     item,
			Score:    score,
			QuickWin: priorities.IsQuickWin(item, score),
		})
	}

	priorities.Rank(ranked)
	return ranked, profiles, nil
}

// prepare runs the proposal, validation, and interest stages for one item
// and returns a dispatch candidate when the item survives all three.
// A nil candidate with nil error means the item's outcome is already final.
func (p *Pipeline) prepare(ctx context.Context, ir *types.ItemReport, content string, profile types.HistoryProfile, report *types.RunReport) (*scheduler.Candidate, error) {
	item := ir.Item

	prop, _, err := p.proposer.Propose(ctx, item, content)
	if err != nil {
		if errors.Is(err, types.ErrContractViolation) {
			return nil, err
		}
		ir.Outcome = types.ItemNoFixAvailable
		ir.Note = err.Error()
		report.NoProposal++
		return nil, nil
	}
	if prop == nil {
		ir.Outcome = types.ItemNoFixAvailable
		report.NoProposal++
		return nil, nil
	}

	if err := p.store.SaveProposal(ctx, prop); err != nil {
		return nil, fmt.Errorf("persisting proposal: %w", err)
	}
	ir.Proposal = prop
	report.Proposed++

	// Reuse a stored terminal verdict for this exact patch; validate
	// fresh patches once and persist the verdict.
	verdict, err := p.store.GetValidationResult(ctx, item.Fingerprint, prop.Hash())
	if errors.Is(err, storage.ErrNotFound) {
		verdict = p.validator.Validate(item, prop, content)
		if err := p.store.SaveValidationResult(ctx, verdict); err != nil {
			return nil, fmt.Errorf("persisting validation result: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading validation result: %w", err)
	}
	ir.Validation = verdict

	interest, err := p.calculator.Calculate(item, profile)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveInterestReport(ctx, interest); err != nil {
		return nil, fmt.Errorf("persisting interest report: %w", err)
	}
	ir.Interest = interest

	if !verdict.Accepted() {
		// Rejected items still go to the dispatcher so the skip is part of
		// the persisted dispatch audit trail; it never opens a PR for them.
		ir.Outcome = types.ItemRejected
		ir.Note = verdict.Detail
	} else {
		report.Accepted++
	}

	return &scheduler.Candidate{
		Item:       item,
		Proposal:   prop,
		Validation: verdict,
		Interest:   interest,
	}, nil
}

// interestReports collects the priced items for the repo-level rollup.
func interestReports(report *types.RunReport) []*types.InterestReport {
	var reports []*types.InterestReport
	for _, ir := range report.Items {
		if ir.Interest != nil {
			reports = append(reports, ir.Interest)
		}
	}
	return reports
}

func categoryAllowed(c types.Category, allowed []types.Category) bool {
	for _, a := range allowed {
		if c == a {
			return true
		}
	}
	return false
}
