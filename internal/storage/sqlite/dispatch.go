package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codedebt/guardian/internal/types"
)

// Claim statuses. A claim moves pending -> created; a supersede marks a
// created claim inactive so the fingerprint becomes dispatchable again.
const (
	claimPending    = "pending"
	claimCreated    = "created"
	claimSuperseded = "superseded"
)

// ClaimDispatch atomically claims a (repository, fingerprint) pair for PR
// creation. The insert is the compare-and-set: exactly one concurrent
// caller wins. Pending claims from dead runs are taken over after
// staleAfter; superseded claims are reopened in place.
func (s *SQLiteStorage) ClaimDispatch(ctx context.Context, repository, fingerprint, runID string, staleAfter time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	var status, holder string
	var claimedAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT status, run_id, claimed_at FROM dispatch_claims WHERE repository = ? AND fingerprint = ?",
		repository, fingerprint).Scan(&status, &holder, &claimedAt)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dispatch_claims (repository, fingerprint, run_id, status, claimed_at)
			VALUES (?, ?, ?, ?, ?)
		`, repository, fingerprint, runID, claimPending, now)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrClaimHeld
			}
			return fmt.Errorf("failed to insert dispatch claim: %w", err)
		}

	case err != nil:
		return fmt.Errorf("failed to check dispatch claim: %w", err)

	case status == claimCreated:
		return ErrAlreadyDispatched

	case status == claimPending && holder != runID && now.Sub(claimedAt) < staleAfter:
		return ErrClaimHeld

	default:
		// Superseded, our own pending claim, or a stale pending claim from
		// a dead run. The status guard keeps the takeover atomic.
		res, err := tx.ExecContext(ctx, `
			UPDATE dispatch_claims
			SET run_id = ?, status = ?, claimed_at = ?, pr_number = NULL, pr_url = NULL, completed_at = NULL
			WHERE repository = ? AND fingerprint = ? AND status != ?
		`, runID, claimPending, now, repository, fingerprint, claimCreated)
		if err != nil {
			return fmt.Errorf("failed to take over dispatch claim: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check claim takeover: %w", err)
		}
		if n == 0 {
			return ErrAlreadyDispatched
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dispatch claim: %w", err)
	}
	return nil
}

// CompleteDispatch marks a pending claim as created and appends the audit
// record in the same transaction. Only the claim holder may complete.
func (s *SQLiteStorage) CompleteDispatch(ctx context.Context, rec *types.DispatchRecord) error {
	if rec.Outcome != types.OutcomeCreated {
		return types.ContractViolationf("CompleteDispatch requires outcome %q, got %q", types.OutcomeCreated, rec.Outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE dispatch_claims
		SET status = ?, pr_number = ?, pr_url = ?, completed_at = ?
		WHERE repository = ? AND fingerprint = ? AND status = ? AND run_id = ?
	`, claimCreated, rec.PRNumber, rec.PRURL, now,
		rec.Repository, rec.Fingerprint, claimPending, rec.RunID)
	if err != nil {
		return fmt.Errorf("failed to complete dispatch claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check claim completion: %w", err)
	}
	if n == 0 {
		return types.ContractViolationf("no pending claim held by run %s for %s/%s", rec.RunID, rec.Repository, rec.Fingerprint)
	}

	if err := insertDispatchRecord(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dispatch completion: %w", err)
	}
	return nil
}

// ReleaseDispatch drops a pending claim after a transient PR failure so the
// fingerprint can be offered again next run. Created claims are untouched.
func (s *SQLiteStorage) ReleaseDispatch(ctx context.Context, repository, fingerprint, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM dispatch_claims
		WHERE repository = ? AND fingerprint = ? AND status = ? AND run_id = ?
	`, repository, fingerprint, claimPending, runID)
	if err != nil {
		return fmt.Errorf("failed to release dispatch claim: %w", err)
	}
	return nil
}

// SupersedeDispatch marks a created claim inactive (its PR was closed or
// merged and the debt resurfaced). The fingerprint becomes dispatchable
// again on the next run.
func (s *SQLiteStorage) SupersedeDispatch(ctx context.Context, repository, fingerprint string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_claims SET status = ?
		WHERE repository = ? AND fingerprint = ? AND status = ?
	`, claimSuperseded, repository, fingerprint, claimCreated)
	if err != nil {
		return fmt.Errorf("failed to supersede dispatch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check supersede: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveDispatch reports whether a created, non-superseded claim exists
// for the fingerprint. This is the duplicate-suppression check.
func (s *SQLiteStorage) HasActiveDispatch(ctx context.Context, repository, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM dispatch_claims
		WHERE repository = ? AND fingerprint = ? AND status = ?
	`, repository, fingerprint, claimCreated).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check active dispatch: %w", err)
	}
	return true, nil
}

// CountCreatedSince counts real (non-dry-run) PR creations for a repository
// since the given time. The daily quota check runs on this.
func (s *SQLiteStorage) CountCreatedSince(ctx context.Context, repository string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dispatch_records
		WHERE repository = ? AND outcome = ? AND dry_run = 0 AND created_at >= ?
	`, repository, types.OutcomeCreated, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dispatches: %w", err)
	}
	return count, nil
}

// RecordDispatch appends an audit record for a non-created outcome
// (skips, dry runs). Created outcomes go through CompleteDispatch so the
// record and the claim update commit together.
func (s *SQLiteStorage) RecordDispatch(ctx context.Context, rec *types.DispatchRecord) error {
	if rec.Outcome == types.OutcomeCreated && !rec.DryRun {
		return types.ContractViolationf("created outcomes must be recorded via CompleteDispatch")
	}
	if err := insertDispatchRecord(ctx, s.db, rec); err != nil {
		return err
	}
	return nil
}

// GetDispatchHistory returns the audit trail for one fingerprint, newest first.
func (s *SQLiteStorage) GetDispatchHistory(ctx context.Context, repository, fingerprint string) ([]*types.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository, fingerprint, run_id, outcome, pr_number, pr_url, dry_run, created_at
		FROM dispatch_records
		WHERE repository = ? AND fingerprint = ?
		ORDER BY created_at DESC, id DESC
	`, repository, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch history: %w", err)
	}
	defer rows.Close()

	var records []*types.DispatchRecord
	for rows.Next() {
		var rec types.DispatchRecord
		var prNumber sql.NullInt64
		var prURL sql.NullString
		if err := rows.Scan(&rec.Repository, &rec.Fingerprint, &rec.RunID,
			&rec.Outcome, &prNumber, &prURL, &rec.DryRun, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		rec.PRNumber = int(prNumber.Int64)
		rec.PRURL = prURL.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertDispatchRecord(ctx context.Context, e execer, rec *types.DispatchRecord) error {
	if !rec.Outcome.IsValid() {
		return types.ContractViolationf("invalid dispatch outcome: %s", rec.Outcome)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO dispatch_records (repository, fingerprint, run_id, outcome, pr_number, pr_url, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Repository, rec.Fingerprint, rec.RunID, rec.Outcome,
		rec.PRNumber, rec.PRURL, rec.DryRun, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}
	return nil
}
