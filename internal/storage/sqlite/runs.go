package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codedebt/guardian/internal/types"
)

// SaveRunReport persists a complete pipeline run. The full report is stored
// as JSON; the summary columns exist so status queries avoid parsing it.
func (s *SQLiteStorage) SaveRunReport(ctx context.Context, report *types.RunReport) error {
	if report.RunID == "" {
		return types.ContractViolationf("run report missing run_id")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	dispatched := report.Counts[types.OutcomeCreated]
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_reports (
			run_id, repository, started_at, duration_ms, detected, proposed,
			accepted, dispatched, total_cost_now, total_cost_late, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, report.Repository, report.StartedAt,
		report.Duration.Milliseconds(), report.Detected, report.Proposed,
		report.Accepted, dispatched, report.TotalCostNow, report.TotalCostLate,
		string(data))
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// GetRunReport retrieves a full run report by run ID.
func (s *SQLiteStorage) GetRunReport(ctx context.Context, runID string) (*types.RunReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT report_json FROM run_reports WHERE run_id = ?", runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	var report types.RunReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
	}
	return &report, nil
}

// RunSummary is one row of run history, cheap enough to list without
// decoding the full report.
type RunSummary struct {
	RunID         string
	Repository    string
	StartedAt     time.Time
	Duration      time.Duration
	Detected      int
	Proposed      int
	Accepted      int
	Dispatched    int
	TotalCostNow  float64
	TotalCostLate float64
}

// ListRunSummaries returns recent runs for a repository, newest first.
func (s *SQLiteStorage) ListRunSummaries(ctx context.Context, repository string, limit int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, repository, started_at, duration_ms, detected, proposed,
		       accepted, dispatched, total_cost_now, total_cost_late
		FROM run_reports WHERE repository = ?
		ORDER BY started_at DESC LIMIT ?
	`, repository, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var summaries []*RunSummary
	for rows.Next() {
		var rs RunSummary
		var durationMs int64
		if err := rows.Scan(&rs.RunID, &rs.Repository, &rs.StartedAt, &durationMs,
			&rs.Detected, &rs.Proposed, &rs.Accepted, &rs.Dispatched,
			&rs.TotalCostNow, &rs.TotalCostLate); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		rs.Duration = time.Duration(durationMs) * time.Millisecond
		summaries = append(summaries, &rs)
	}
	return summaries, rows.Err()
}
