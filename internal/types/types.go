package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Severity classifies how urgent a debt item is.
// Severity is immutable once assigned for a fingerprint within a run,
// but may be re-evaluated on the next run if the underlying code changed.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Weight returns the scoring weight contributed by this severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 30
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 5
	}
	return 0
}

// Category classifies the kind of technical debt
type Category string

const (
	CategorySecurity        Category = "security"
	CategoryPerformance     Category = "performance"
	CategoryMaintainability Category = "maintainability"
	CategoryCodeSmell       Category = "code-smell"
	CategoryProjectHealth   Category = "project-health"
)

// IsValid checks if the category value is valid
func (c Category) IsValid() bool {
	switch c {
	case CategorySecurity, CategoryPerformance, CategoryMaintainability,
		CategoryCodeSmell, CategoryProjectHealth:
		return true
	}
	return false
}

// Weight returns the scoring weight contributed by this category.
func (c Category) Weight() int {
	switch c {
	case CategorySecurity:
		return 30
	case CategoryPerformance:
		return 15
	case CategoryMaintainability:
		return 10
	case CategoryCodeSmell:
		return 5
	case CategoryProjectHealth:
		return 10
	}
	return 0
}

// DebtItem is one detected instance of a technical-debt pattern at a
// specific file and line.
type DebtItem struct {
	ID          string    `json:"id"`
	Repository  string    `json:"repository"` // "owner/name"
	FilePath    string    `json:"file_path"`
	Line        int       `json:"line"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Pattern     string    `json:"pattern"` // detector pattern that matched, e.g. "bare-except"
	Snippet     string    `json:"snippet,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	TouchCount  int       `json:"touch_count"` // distinct commits that modified the region
}

// NewFingerprint computes the stable identity hash for a debt item.
// The same (path, line, category) always yields the same fingerprint,
// which is the de-duplication contract across runs.
func NewFingerprint(filePath string, line int, category Category) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", filePath, line, category)))
	return hex.EncodeToString(h[:])[:16]
}

// Validate checks if the debt item has valid field values
func (d *DebtItem) Validate() error {
	if d.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if d.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if d.Line < 0 {
		return fmt.Errorf("line cannot be negative (got %d)", d.Line)
	}
	if !d.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", d.Severity)
	}
	if !d.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", d.Category)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("description cannot be empty")
	}
	if d.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	return nil
}

// Location renders the item position as "path:line".
func (d *DebtItem) Location() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d", d.FilePath, d.Line)
	}
	return d.FilePath
}

// ScoreComponent is one contributing term of a priority score,
// kept for auditability.
type ScoreComponent struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// PriorityScore is the derived ranking value for one run. Only its
// inputs are persisted; the score itself is recomputed every run.
type PriorityScore struct {
	Value      int              `json:"value"` // clamped to [0,100]
	Components []ScoreComponent `json:"components"`
}

// EffortRange is an estimated remediation effort expressed as an hour range.
type EffortRange struct {
	MinHours float64 `json:"min_hours"`
	MaxHours float64 `json:"max_hours"`
}

// EffortForSeverity maps severity directly to an effort estimate.
// The mapping is fixed: critical 4-8h, high 2-4h, medium 1-2h, low <1h.
func EffortForSeverity(s Severity) EffortRange {
	switch s {
	case SeverityCritical:
		return EffortRange{MinHours: 4, MaxHours: 8}
	case SeverityHigh:
		return EffortRange{MinHours: 2, MaxHours: 4}
	case SeverityMedium:
		return EffortRange{MinHours: 1, MaxHours: 2}
	default:
		return EffortRange{MinHours: 0.25, MaxHours: 1}
	}
}

// MidHours returns the midpoint of the range, used by the cost model.
func (e EffortRange) MidHours() float64 {
	return (e.MinHours + e.MaxHours) / 2
}

func (e EffortRange) String() string {
	if e.MaxHours <= 1 {
		return "<1h"
	}
	return fmt.Sprintf("%g-%gh", e.MinHours, e.MaxHours)
}

// ProposalSource distinguishes template fixes from AI-generated ones.
type ProposalSource string

const (
	SourceTemplate    ProposalSource = "template"
	SourceAIGenerated ProposalSource = "ai-generated"
)

// FixProposal is a candidate remediation for one DebtItem. It is created
// by the proposer, consumed by the validator, and either promoted to a PR
// action or discarded; never partially applied.
type FixProposal struct {
	Fingerprint string         `json:"fingerprint"`
	FilePath    string         `json:"file_path"`
	BeforeCode  string         `json:"before_code"`
	AfterCode   string         `json:"after_code"`
	TemplateID  string         `json:"template_id,omitempty"` // empty for ai-generated
	Source      ProposalSource `json:"source"`
	Effort      EffortRange    `json:"effort"`
	Rationale   string         `json:"rationale"`
}

// Hash identifies the proposal by its patch content. A changed patch is a
// new proposal, so validation results keyed by this hash stay terminal.
func (p *FixProposal) Hash() string {
	h := sha256.Sum256([]byte(p.FilePath + "\x00" + p.BeforeCode + "\x00" + p.AfterCode))
	return hex.EncodeToString(h[:])[:16]
}

// Patch renders the proposal as a unified-style diff against the target file.
func (p *FixProposal) Patch() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", p.FilePath, p.FilePath)
	for _, line := range strings.Split(strings.TrimRight(p.BeforeCode, "\n"), "\n") {
		b.WriteString("-" + line + "\n")
	}
	for _, line := range strings.Split(strings.TrimRight(p.AfterCode, "\n"), "\n") {
		b.WriteString("+" + line + "\n")
	}
	return b.String()
}

// Validate checks if the proposal has valid field values
func (p *FixProposal) Validate() error {
	if p.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if p.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if strings.TrimSpace(p.AfterCode) == "" {
		return fmt.Errorf("after_code cannot be empty")
	}
	if p.Source != SourceTemplate && p.Source != SourceAIGenerated {
		return fmt.Errorf("invalid source: %s", p.Source)
	}
	if p.Source == SourceTemplate && p.TemplateID == "" {
		return fmt.Errorf("template_id is required for template proposals")
	}
	return nil
}

// ValidationState is the lifecycle state of a safety validation.
// Accepted and rejected are terminal for a given proposal hash.
type ValidationState string

const (
	ValidationPending  ValidationState = "pending"
	ValidationAccepted ValidationState = "accepted"
	ValidationRejected ValidationState = "rejected"
)

// IsTerminal reports whether the state can never change again.
func (s ValidationState) IsTerminal() bool {
	return s == ValidationAccepted || s == ValidationRejected
}

// RejectReason names the first safety check a proposal failed.
type RejectReason string

const (
	RejectSyntaxInvalid    RejectReason = "syntax-invalid"
	RejectStructureChanged RejectReason = "structure-changed"
	RejectDangerousPattern RejectReason = "dangerous-pattern"
)

// ValidationResult is the outcome of running the safety validator on one
// proposal. Identical (item, proposal) pairs always yield identical results.
type ValidationResult struct {
	Fingerprint  string          `json:"fingerprint"`
	ProposalHash string          `json:"proposal_hash"`
	State        ValidationState `json:"state"`
	Reason       RejectReason    `json:"reason,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// Accepted is a convenience accessor for the dispatch gate.
func (v *ValidationResult) Accepted() bool {
	return v != nil && v.State == ValidationAccepted
}

// HistoryProfile summarizes the version history of the region a debt item
// lives in. It is produced by the version-control collaborator.
type HistoryProfile struct {
	AgeMonths       int       `json:"age_months"`
	TouchCount      int       `json:"touch_count"`
	DistinctAuthors int       `json:"distinct_authors"`
	LastTouched     time.Time `json:"last_touched,omitempty"`
}

// InterestReport is the cost-model output for one DebtItem.
// CostAtHorizon >= CostToday whenever CompoundingRate >= 0.
type InterestReport struct {
	Fingerprint     string  `json:"fingerprint"`
	CostToday       float64 `json:"cost_today"`      // currency units
	CostAtHorizon   float64 `json:"cost_at_horizon"` // same units, one horizon ahead
	CompoundingRate float64 `json:"compounding_rate"`
	HorizonQuarters int     `json:"horizon_quarters"`
	Summary         string  `json:"summary"`
}

// Savings is the modeled cost of deferring the fix to the horizon.
func (r *InterestReport) Savings() float64 {
	return r.CostAtHorizon - r.CostToday
}

// DispatchOutcome enumerates what happened to an item at the dispatch stage
type DispatchOutcome string

const (
	OutcomeCreated                 DispatchOutcome = "created"
	OutcomeSkippedQuota            DispatchOutcome = "skipped-quota"
	OutcomeSkippedDuplicate        DispatchOutcome = "skipped-duplicate"
	OutcomeSkippedValidationFailed DispatchOutcome = "skipped-validation-failed"
)

// IsValid checks if the dispatch outcome value is valid
func (o DispatchOutcome) IsValid() bool {
	switch o {
	case OutcomeCreated, OutcomeSkippedQuota, OutcomeSkippedDuplicate,
		OutcomeSkippedValidationFailed:
		return true
	}
	return false
}

// DispatchRecord is one attempted or completed PR action. At most one
// "created" record may exist per (repository, fingerprint) unless the prior
// one was explicitly superseded. The store enforces this contract.
type DispatchRecord struct {
	Repository  string          `json:"repository"`
	Fingerprint string          `json:"fingerprint"`
	RunID       string          `json:"run_id"`
	Outcome     DispatchOutcome `json:"outcome"`
	PRNumber    int             `json:"pr_number,omitempty"`
	PRURL       string          `json:"pr_url,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DispatchPolicy bounds what the scheduler may do in one run.
type DispatchPolicy struct {
	MaxPerRun int  `json:"max_per_run" mapstructure:"max_per_run"`
	MaxPerDay int  `json:"max_per_day" mapstructure:"max_per_day"`
	DraftOnly bool `json:"draft_only" mapstructure:"draft_only"`
	// AllowNonDraft is the documented override: DraftOnly=false is honored
	// only when this is also set. Even then nothing is ever auto-merged.
	AllowNonDraft bool `json:"allow_non_draft" mapstructure:"allow_non_draft"`
	DryRun        bool `json:"dry_run" mapstructure:"dry_run"`
}

// EffectiveDraft resolves the draft flag the scheduler must use.
// Draft-only is a hard invariant unless the override is explicit.
func (p DispatchPolicy) EffectiveDraft() bool {
	if p.DraftOnly {
		return true
	}
	return !p.AllowNonDraft
}

// Validate checks if the policy has valid field values
func (p DispatchPolicy) Validate() error {
	if p.MaxPerRun < 0 {
		return fmt.Errorf("max_per_run cannot be negative (got %d)", p.MaxPerRun)
	}
	if p.MaxPerDay < 0 {
		return fmt.Errorf("max_per_day cannot be negative (got %d)", p.MaxPerDay)
	}
	return nil
}
