package storage

import (
	"context"
	"time"

	"github.com/codedebt/guardian/internal/storage/sqlite"
	"github.com/codedebt/guardian/internal/types"
)

// Sentinel errors re-exported from the SQLite backend so callers depend on
// this package only.
var (
	ErrAlreadyDispatched = sqlite.ErrAlreadyDispatched
	ErrClaimHeld         = sqlite.ErrClaimHeld
	ErrNotFound          = sqlite.ErrNotFound
)

// Storage defines the interface for pipeline state backends
type Storage interface {
	// Debt Items - de-duplicated by (repository, fingerprint)
	UpsertItem(ctx context.Context, item *types.DebtItem) error
	GetItem(ctx context.Context, repository, fingerprint string) (*types.DebtItem, error)
	ListItems(ctx context.Context, repository string) ([]*types.DebtItem, error)

	// Fix Proposals - at most one current proposal per fingerprint
	SaveProposal(ctx context.Context, p *types.FixProposal) error
	GetProposal(ctx context.Context, fingerprint string) (*types.FixProposal, error)

	// Validation Results - terminal per (fingerprint, proposal hash)
	SaveValidationResult(ctx context.Context, r *types.ValidationResult) error
	GetValidationResult(ctx context.Context, fingerprint, proposalHash string) (*types.ValidationResult, error)

	// Interest Reports
	SaveInterestReport(ctx context.Context, r *types.InterestReport) error
	GetInterestReport(ctx context.Context, fingerprint string) (*types.InterestReport, error)

	// Dispatch - compare-and-set claims plus the append-only audit trail
	ClaimDispatch(ctx context.Context, repository, fingerprint, runID string, staleAfter time.Duration) error
	CompleteDispatch(ctx context.Context, rec *types.DispatchRecord) error
	ReleaseDispatch(ctx context.Context, repository, fingerprint, runID string) error
	SupersedeDispatch(ctx context.Context, repository, fingerprint string) error
	HasActiveDispatch(ctx context.Context, repository, fingerprint string) (bool, error)
	CountCreatedSince(ctx context.Context, repository string, since time.Time) (int, error)
	RecordDispatch(ctx context.Context, rec *types.DispatchRecord) error
	GetDispatchHistory(ctx context.Context, repository, fingerprint string) ([]*types.DispatchRecord, error)

	// Run Reports
	SaveRunReport(ctx context.Context, report *types.RunReport) error
	GetRunReport(ctx context.Context, runID string) (*types.RunReport, error)
	ListRunSummaries(ctx context.Context, repository string, limit int) ([]*sqlite.RunSummary, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".guardian/guardian.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".guardian/guardian.db",
	}
}

// NewStorage creates a new SQLite storage backend
// The ctx parameter is currently unused but kept for API consistency
// and future extension possibilities
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".guardian/guardian.db"
	}

	return sqlite.New(cfg.Path)
}
