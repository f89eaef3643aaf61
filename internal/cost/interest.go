// Package cost models the monetary interest a debt item accrues while it
// is deferred. Older, frequently-touched code compounds faster: every
// commit that lands near unfixed debt entangles it further.
package cost

import (
	"fmt"
	"math"

	"github.com/codedebt/guardian/internal/types"
)

// Config holds the tunable parameters of the interest model. The exact
// curve is tunable; monotonicity in touch count and age is a hard contract.
type Config struct {
	// HourlyRate is the loaded developer cost in currency units per hour.
	HourlyRate float64

	// HorizonQuarters is how far ahead CostAtHorizon projects.
	HorizonQuarters int
}

// DefaultConfig returns the default interest model parameters.
func DefaultConfig() *Config {
	return &Config{
		HourlyRate:      50,
		HorizonQuarters: 1,
	}
}

// Validate checks if the config has valid field values
func (c *Config) Validate() error {
	if c.HourlyRate <= 0 {
		return fmt.Errorf("hourly_rate must be positive (got %g)", c.HourlyRate)
	}
	if c.HorizonQuarters < 1 {
		return fmt.Errorf("horizon_quarters must be at least 1 (got %d)", c.HorizonQuarters)
	}
	return nil
}

// Calculator turns a debt item's version-history profile into a
// time-decayed cost estimate. Pure: no I/O, no clock reads.
type Calculator struct {
	config *Config
}

// NewCalculator creates a calculator with the given config (nil uses defaults).
func NewCalculator(cfg *Config) (*Calculator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid interest config: %w", err)
	}
	return &Calculator{config: cfg}, nil
}

// Calculate produces the interest report for one item.
//
//	costToday    = hourlyRate × effortMidHours(severity)
//	costAtHorizon = costToday × (1 + rate)^horizonQuarters
//
// Zero history (brand-new code) yields rate 0 and costAtHorizon == costToday.
func (c *Calculator) Calculate(item *types.DebtItem, profile types.HistoryProfile) (*types.InterestReport, error) {
	if !item.Severity.IsValid() {
		return nil, types.ContractViolationf("unknown severity %q for %s", item.Severity, item.Fingerprint)
	}
	if profile.AgeMonths < 0 || profile.TouchCount < 0 || profile.DistinctAuthors < 0 {
		return nil, types.ContractViolationf("negative history profile for %s", item.Fingerprint)
	}

	effort := types.EffortForSeverity(item.Severity)
	costToday := c.config.HourlyRate * effort.MidHours()

	rate := CompoundingRate(profile)
	costAtHorizon := costToday * math.Pow(1+rate, float64(c.config.HorizonQuarters))

	report := &types.InterestReport{
		Fingerprint:     item.Fingerprint,
		CostToday:       round2(costToday),
		CostAtHorizon:   round2(costAtHorizon),
		CompoundingRate: rate,
		HorizonQuarters: c.config.HorizonQuarters,
	}
	report.Summary = c.summarize(item, profile, report)
	return report, nil
}

// Compounding rate buckets. Step-wise so small history changes don't
// produce noisy cost deltas run over run.
const (
	ageRateOld    = 0.10 // >= 24 months
	ageRateMature = 0.06 // >= 12 months
	ageRateSettled = 0.03 // >= 3 months

	touchRateStep   = 0.02 // per 10 touches
	touchRateCap    = 0.12
	totalRateCap    = 0.25
	touchBucketSize = 10
)

// CompoundingRate maps a history profile to a quarterly rate.
// Monotone non-decreasing in both age and touch count; zero history
// (new code) yields exactly zero.
func CompoundingRate(profile types.HistoryProfile) float64 {
	if profile.AgeMonths == 0 && profile.TouchCount == 0 {
		return 0
	}

	var rate float64
	switch {
	case profile.AgeMonths >= 24:
		rate = ageRateOld
	case profile.AgeMonths >= 12:
		rate = ageRateMature
	case profile.AgeMonths >= 3:
		rate = ageRateSettled
	}

	touch := float64(profile.TouchCount/touchBucketSize) * touchRateStep
	if touch > touchRateCap {
		touch = touchRateCap
	}
	rate += touch

	if rate > totalRateCap {
		rate = totalRateCap
	}
	return rate
}

func (c *Calculator) summarize(item *types.DebtItem, profile types.HistoryProfile, r *types.InterestReport) string {
	if r.CompoundingRate == 0 {
		return fmt.Sprintf(
			"This %s debt in %s is in new code with no history. Fixing it costs ~$%.0f today and the price is not yet compounding.",
			item.Category, item.Location(), r.CostToday)
	}
	return fmt.Sprintf(
		"This %s debt in %s is %d months old and its region was touched %d times by %d authors. Fixing it costs ~$%.0f today; defer %d quarter(s) and it costs ~$%.0f (%.0f%% quarterly interest).",
		item.Category, item.Location(), profile.AgeMonths, profile.TouchCount,
		profile.DistinctAuthors, r.CostToday, r.HorizonQuarters, r.CostAtHorizon,
		r.CompoundingRate*100)
}

// Rollup is the repository-level total across all analyzed items.
type Rollup struct {
	Items         int     `json:"items"`
	TotalCostNow  float64 `json:"total_cost_now"`
	TotalCostLate float64 `json:"total_cost_late"`
	Savings       float64 `json:"savings"`
	ROILine       string  `json:"roi_line"`
}

// Total aggregates individual reports into a repo-level rollup.
func Total(reports []*types.InterestReport) Rollup {
	var roll Rollup
	for _, r := range reports {
		if r == nil {
			continue
		}
		roll.Items++
		roll.TotalCostNow += r.CostToday
		roll.TotalCostLate += r.CostAtHorizon
	}
	roll.TotalCostNow = round2(roll.TotalCostNow)
	roll.TotalCostLate = round2(roll.TotalCostLate)
	roll.Savings = round2(roll.TotalCostLate - roll.TotalCostNow)
	roll.ROILine = fmt.Sprintf("Fix now and save $%.0f", roll.Savings)
	return roll
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
