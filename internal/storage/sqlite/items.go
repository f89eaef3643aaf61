package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codedebt/guardian/internal/types"
)

// UpsertItem records a detected debt item, de-duplicating by
// (repository, fingerprint). A new fingerprint inserts a row with
// first_seen = last_seen = now; a known fingerprint keeps first_seen and
// the original id, and refreshes everything observable about the item.
func (s *SQLiteStorage) UpsertItem(ctx context.Context, item *types.DebtItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid debt item: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO debt_items (
			repository, fingerprint, id, file_path, line, category, severity,
			description, pattern, snippet, first_seen, last_seen, touch_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository, fingerprint) DO UPDATE SET
			file_path = excluded.file_path,
			line = excluded.line,
			category = excluded.category,
			severity = excluded.severity,
			description = excluded.description,
			pattern = excluded.pattern,
			snippet = excluded.snippet,
			last_seen = excluded.last_seen,
			touch_count = excluded.touch_count
	`, item.Repository, item.Fingerprint, item.ID, item.FilePath, item.Line,
		item.Category, item.Severity, item.Description, item.Pattern, item.Snippet,
		item.FirstSeen, item.LastSeen, item.TouchCount)
	if err != nil {
		return fmt.Errorf("failed to upsert debt item: %w", err)
	}
	return nil
}

// GetItem retrieves a debt item by its identity pair.
func (s *SQLiteStorage) GetItem(ctx context.Context, repository, fingerprint string) (*types.DebtItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repository, fingerprint, id, file_path, line, category, severity,
		       description, pattern, snippet, first_seen, last_seen, touch_count
		FROM debt_items WHERE repository = ? AND fingerprint = ?
	`, repository, fingerprint)
	return scanItem(row)
}

// ListItems returns all known debt items for a repository, most recently
// seen first.
func (s *SQLiteStorage) ListItems(ctx context.Context, repository string) ([]*types.DebtItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository, fingerprint, id, file_path, line, category, severity,
		       description, pattern, snippet, first_seen, last_seen, touch_count
		FROM debt_items WHERE repository = ?
		ORDER BY last_seen DESC, fingerprint ASC
	`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to query debt items: %w", err)
	}
	defer rows.Close()

	var items []*types.DebtItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*types.DebtItem, error) {
	var item types.DebtItem
	err := row.Scan(&item.Repository, &item.Fingerprint, &item.ID, &item.FilePath,
		&item.Line, &item.Category, &item.Severity, &item.Description,
		&item.Pattern, &item.Snippet, &item.FirstSeen, &item.LastSeen, &item.TouchCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan debt item: %w", err)
	}
	return &item, nil
}

// SaveProposal stores the current fix proposal for a fingerprint,
// replacing any previous proposal with a different patch.
func (s *SQLiteStorage) SaveProposal(ctx context.Context, p *types.FixProposal) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid proposal: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fix_proposals (
			fingerprint, proposal_hash, file_path, before_code, after_code,
			template_id, source, effort_min_hours, effort_max_hours, rationale, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			proposal_hash = excluded.proposal_hash,
			file_path = excluded.file_path,
			before_code = excluded.before_code,
			after_code = excluded.after_code,
			template_id = excluded.template_id,
			source = excluded.source,
			effort_min_hours = excluded.effort_min_hours,
			effort_max_hours = excluded.effort_max_hours,
			rationale = excluded.rationale,
			created_at = excluded.created_at
	`, p.Fingerprint, p.Hash(), p.FilePath, p.BeforeCode, p.AfterCode,
		p.TemplateID, p.Source, p.Effort.MinHours, p.Effort.MaxHours,
		p.Rationale, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves the current proposal for a fingerprint.
func (s *SQLiteStorage) GetProposal(ctx context.Context, fingerprint string) (*types.FixProposal, error) {
	var p types.FixProposal
	var hash string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, proposal_hash, file_path, before_code, after_code,
		       template_id, source, effort_min_hours, effort_max_hours, rationale, created_at
		FROM fix_proposals WHERE fingerprint = ?
	`, fingerprint).Scan(&p.Fingerprint, &hash, &p.FilePath, &p.BeforeCode,
		&p.AfterCode, &p.TemplateID, &p.Source, &p.Effort.MinHours,
		&p.Effort.MaxHours, &p.Rationale, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return &p, nil
}

// SaveValidationResult persists a validation verdict. Terminal verdicts
// are immutable: re-saving the same (fingerprint, proposal_hash) with a
// different state is a contract violation, while an identical re-save is
// a harmless no-op (the validator is deterministic).
func (s *SQLiteStorage) SaveValidationResult(ctx context.Context, r *types.ValidationResult) error {
	if r.Fingerprint == "" || r.ProposalHash == "" {
		return types.ContractViolationf("validation result missing identity (fingerprint=%q hash=%q)", r.Fingerprint, r.ProposalHash)
	}

	existing, err := s.GetValidationResult(ctx, r.Fingerprint, r.ProposalHash)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		if existing.State.IsTerminal() && existing.State != r.State {
			return types.ContractViolationf("validation for %s/%s is terminal (%s), refusing to overwrite with %s",
				r.Fingerprint, r.ProposalHash, existing.State, r.State)
		}
		if existing.State == r.State {
			return nil
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_results (fingerprint, proposal_hash, state, reason, detail, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint, proposal_hash) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			detail = excluded.detail,
			checked_at = excluded.checked_at
	`, r.Fingerprint, r.ProposalHash, r.State, r.Reason, r.Detail, r.CheckedAt)
	if err != nil {
		return fmt.Errorf("failed to save validation result: %w", err)
	}
	return nil
}

// GetValidationResult retrieves a validation verdict by proposal identity.
func (s *SQLiteStorage) GetValidationResult(ctx context.Context, fingerprint, proposalHash string) (*types.ValidationResult, error) {
	var r types.ValidationResult
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, proposal_hash, state, reason, detail, checked_at
		FROM validation_results WHERE fingerprint = ? AND proposal_hash = ?
	`, fingerprint, proposalHash).Scan(&r.Fingerprint, &r.ProposalHash,
		&r.State, &r.Reason, &r.Detail, &r.CheckedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validation result: %w", err)
	}
	return &r, nil
}

// SaveInterestReport stores the latest cost-model output for a fingerprint.
func (s *SQLiteStorage) SaveInterestReport(ctx context.Context, r *types.InterestReport) error {
	if r.Fingerprint == "" {
		return types.ContractViolationf("interest report missing fingerprint")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interest_reports (
			fingerprint, cost_today, cost_at_horizon, compounding_rate,
			horizon_quarters, summary, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			cost_today = excluded.cost_today,
			cost_at_horizon = excluded.cost_at_horizon,
			compounding_rate = excluded.compounding_rate,
			horizon_quarters = excluded.horizon_quarters,
			summary = excluded.summary,
			computed_at = excluded.computed_at
	`, r.Fingerprint, r.CostToday, r.CostAtHorizon, r.CompoundingRate,
		r.HorizonQuarters, r.Summary, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save interest report: %w", err)
	}
	return nil
}

// GetInterestReport retrieves the latest cost-model output for a fingerprint.
func (s *SQLiteStorage) GetInterestReport(ctx context.Context, fingerprint string) (*types.InterestReport, error) {
	var r types.InterestReport
	var computedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, cost_today, cost_at_horizon, compounding_rate,
		       horizon_quarters, summary, computed_at
		FROM interest_reports WHERE fingerprint = ?
	`, fingerprint).Scan(&r.Fingerprint, &r.CostToday, &r.CostAtHorizon,
		&r.CompoundingRate, &r.HorizonQuarters, &r.Summary, &computedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interest report: %w", err)
	}
	return &r, nil
}
