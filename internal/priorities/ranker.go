// Package priorities implements the pure scoring function that orders debt
// items by business impact for one run.
//
// Scores are deterministic: the same (severity, category, context) always
// produces the same score, and ties break on a stable key so repeated runs
// yield identical ranked order given identical inputs.
package priorities

import (
	"sort"
	"time"

	"github.com/codedebt/guardian/internal/types"
)

// Score algorithm constants. The context bonus constants are tunable; the
// severity and category weights are a hard contract (see types.Severity.Weight
// and types.Category.Weight).
const (
	baseScore = 50

	maxContextBonus = 20

	// recencyBoost rewards items in files touched within recencyWindow:
	// actively worked areas are cheaper to fix now.
	recencyBoost  = 8
	recencyWindow = 30 * 24 * time.Hour

	// authorBoost adds 2 points per distinct co-author beyond the first,
	// capped at 6. Shared ownership means the debt taxes more people.
	authorBoostPerAuthor = 2
	authorBoostCap       = 6

	// touchBoost adds a point per 5 region touches, capped at 6.
	touchesPerPoint = 5
	touchBoostCap   = 6
)

// Context carries the repository signals the score's context bonus reads.
// Now is passed explicitly so scoring stays a pure function.
type Context struct {
	Now             time.Time
	LastTouched     time.Time
	TouchCount      int
	DistinctAuthors int
}

// QuickWinThreshold: low-effort items scoring above this are flagged as
// quick wins in reports. Metadata only; it never changes ranked order.
const QuickWinThreshold = 50

// Ranked pairs a debt item with its computed score for one run.
type Ranked struct {
	Item     *types.DebtItem
	Score    types.PriorityScore
	QuickWin bool
}

// Score computes the priority score for one item:
//
//	score = 50 (base) + severityWeight + categoryWeight + contextBonus
//
// clamped to [0,100]. Unknown severity or category values are a contract
// violation, not a runtime condition; the caller must fail fast.
func Score(item *types.DebtItem, ctx Context) (types.PriorityScore, error) {
	if !item.Severity.IsValid() {
		return types.PriorityScore{}, types.ContractViolationf("unknown severity %q for %s", item.Severity, item.Fingerprint)
	}
	if !item.Category.IsValid() {
		return types.PriorityScore{}, types.ContractViolationf("unknown category %q for %s", item.Category, item.Fingerprint)
	}

	components := []types.ScoreComponent{
		{Name: "base", Points: baseScore},
		{Name: "severity:" + string(item.Severity), Points: item.Severity.Weight()},
		{Name: "category:" + string(item.Category), Points: item.Category.Weight()},
		{Name: "context", Points: contextBonus(ctx)},
	}

	total := 0
	for _, c := range components {
		total += c.Points
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	return types.PriorityScore{Value: total, Components: components}, nil
}

// contextBonus maps recency and touch frequency into [0,maxContextBonus].
// Monotone non-decreasing in touch count and author count.
func contextBonus(ctx Context) int {
	bonus := 0

	if !ctx.LastTouched.IsZero() && ctx.Now.Sub(ctx.LastTouched) <= recencyWindow {
		bonus += recencyBoost
	}

	if ctx.DistinctAuthors > 1 {
		authors := (ctx.DistinctAuthors - 1) * authorBoostPerAuthor
		if authors > authorBoostCap {
			authors = authorBoostCap
		}
		bonus += authors
	}

	touches := ctx.TouchCount / touchesPerPoint
	if touches > touchBoostCap {
		touches = touchBoostCap
	}
	bonus += touches

	if bonus > maxContextBonus {
		bonus = maxContextBonus
	}
	return bonus
}

// Rank sorts scored items into the run's dispatch order: score descending,
// then severity weight descending, then category weight descending, then
// fingerprint ascending. The ordering is total and deterministic.
func Rank(items []Ranked) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score.Value != b.Score.Value {
			return a.Score.Value > b.Score.Value
		}
		if a.Item.Severity.Weight() != b.Item.Severity.Weight() {
			return a.Item.Severity.Weight() > b.Item.Severity.Weight()
		}
		if a.Item.Category.Weight() != b.Item.Category.Weight() {
			return a.Item.Category.Weight() > b.Item.Category.Weight()
		}
		return a.Item.Fingerprint < b.Item.Fingerprint
	})
}

// IsQuickWin flags high-score, low-effort items for reporting.
func IsQuickWin(item *types.DebtItem, score types.PriorityScore) bool {
	effort := types.EffortForSeverity(item.Severity)
	return effort.MaxHours <= 1 && score.Value > QuickWinThreshold
}
