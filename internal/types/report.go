package types

import (
	"time"
)

// ItemOutcome is the final, user-visible disposition of one item in a run.
// Every considered item gets one; nothing is silently dropped.
type ItemOutcome string

const (
	ItemDetectedOnly     ItemOutcome = "detected"             // never ranked (should not happen in a healthy run)
	ItemNoFixAvailable   ItemOutcome = "no-fix-available"     // no template matched and fallback unusable
	ItemRejected         ItemOutcome = "rejected"             // failed safety validation
	ItemDispatched       ItemOutcome = "dispatched"           // PR created
	ItemSkippedQuota     ItemOutcome = "skipped-quota"        //
	ItemSkippedDuplicate ItemOutcome = "skipped-duplicate"    //
	ItemDispatchDeferred ItemOutcome = "dispatch-deferred"    // transient PR-service failure, re-offerable next run
	ItemFilteredPolicy   ItemOutcome = "filtered-by-policy"   // autopilot allowlist excluded the category
)

// ItemReport collects everything the pipeline learned about one item.
type ItemReport struct {
	Item       *DebtItem         `json:"item"`
	Score      *PriorityScore    `json:"score,omitempty"`
	Rank       int               `json:"rank,omitempty"` // 1-based position in the run's order
	QuickWin   bool              `json:"quick_win,omitempty"`
	Proposal   *FixProposal      `json:"proposal,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Interest   *InterestReport   `json:"interest,omitempty"`
	Dispatch   *DispatchRecord   `json:"dispatch,omitempty"`
	Outcome    ItemOutcome       `json:"outcome"`
	Note       string            `json:"note,omitempty"` // reason detail for degraded outcomes
}

// RunReport aggregates one full pipeline execution against one repository
// snapshot. It is what the core exposes to its callers.
type RunReport struct {
	RunID      string                  `json:"run_id"`
	Repository string                  `json:"repository"`
	StartedAt  time.Time               `json:"started_at"`
	Duration   time.Duration           `json:"duration"`
	Items      []*ItemReport           `json:"items"` // in ranked order
	Counts     map[DispatchOutcome]int `json:"counts"`

	Detected      int     `json:"detected"`
	Proposed      int     `json:"proposed"`
	Accepted      int     `json:"accepted"`
	NoProposal    int     `json:"no_proposal"`
	TotalCostNow  float64 `json:"total_cost_now"`
	TotalCostLate float64 `json:"total_cost_late"`
}

// EstimatedSavings is the total cost avoided by fixing everything now
// rather than at the horizon.
func (r *RunReport) EstimatedSavings() float64 {
	return r.TotalCostLate - r.TotalCostNow
}

// Count increments the outcome tally, allocating the map lazily.
func (r *RunReport) Count(outcome DispatchOutcome) {
	if r.Counts == nil {
		r.Counts = make(map[DispatchOutcome]int)
	}
	r.Counts[outcome]++
}
