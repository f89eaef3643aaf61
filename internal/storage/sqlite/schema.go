package sqlite

const schema = `
-- Debt items table: one row per (repository, fingerprint). Re-detection
-- of a known fingerprint updates the row, it never creates a second one.
CREATE TABLE IF NOT EXISTS debt_items (
    repository TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    line INTEGER NOT NULL DEFAULT 0,
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL,
    pattern TEXT NOT NULL DEFAULT '',
    snippet TEXT NOT NULL DEFAULT '',
    first_seen DATETIME NOT NULL,
    last_seen DATETIME NOT NULL,
    touch_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (repository, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_debt_items_severity ON debt_items(severity);
CREATE INDEX IF NOT EXISTS idx_debt_items_category ON debt_items(category);
CREATE INDEX IF NOT EXISTS idx_debt_items_last_seen ON debt_items(last_seen);

-- Fix proposals: at most one current proposal per fingerprint. The
-- proposal_hash tracks patch content; a changed patch replaces the row.
CREATE TABLE IF NOT EXISTS fix_proposals (
    fingerprint TEXT NOT NULL PRIMARY KEY,
    proposal_hash TEXT NOT NULL,
    file_path TEXT NOT NULL,
    before_code TEXT NOT NULL DEFAULT '',
    after_code TEXT NOT NULL,
    template_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    effort_min_hours REAL NOT NULL DEFAULT 0,
    effort_max_hours REAL NOT NULL DEFAULT 0,
    rationale TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Validation results: keyed by (fingerprint, proposal_hash) so a terminal
-- verdict survives restarts and is never recomputed for the same patch.
CREATE TABLE IF NOT EXISTS validation_results (
    fingerprint TEXT NOT NULL,
    proposal_hash TEXT NOT NULL,
    state TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    checked_at DATETIME NOT NULL,
    PRIMARY KEY (fingerprint, proposal_hash)
);

-- Interest reports: latest cost-model output per fingerprint.
CREATE TABLE IF NOT EXISTS interest_reports (
    fingerprint TEXT NOT NULL PRIMARY KEY,
    cost_today REAL NOT NULL,
    cost_at_horizon REAL NOT NULL,
    compounding_rate REAL NOT NULL,
    horizon_quarters INTEGER NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    computed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Dispatch claims: the compare-and-set gate that makes PR creation
-- idempotent. One row per (repository, fingerprint); status moves
-- pending -> created, and only an explicit supersede reopens it.
CREATE TABLE IF NOT EXISTS dispatch_claims (
    repository TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    run_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    pr_number INTEGER,
    pr_url TEXT,
    claimed_at DATETIME NOT NULL,
    completed_at DATETIME,
    PRIMARY KEY (repository, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_dispatch_claims_status ON dispatch_claims(status);

-- Dispatch records: append-only audit trail of every dispatch decision,
-- including skips. The claims table holds state; this table holds history.
CREATE TABLE IF NOT EXISTS dispatch_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    run_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    pr_number INTEGER,
    pr_url TEXT,
    dry_run INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatch_records_repo_fp ON dispatch_records(repository, fingerprint);
CREATE INDEX IF NOT EXISTS idx_dispatch_records_outcome ON dispatch_records(outcome, created_at);

-- Run reports: one row per pipeline execution, full report as JSON plus
-- the summary columns the status command queries directly.
CREATE TABLE IF NOT EXISTS run_reports (
    run_id TEXT NOT NULL PRIMARY KEY,
    repository TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    detected INTEGER NOT NULL DEFAULT 0,
    proposed INTEGER NOT NULL DEFAULT 0,
    accepted INTEGER NOT NULL DEFAULT 0,
    dispatched INTEGER NOT NULL DEFAULT 0,
    total_cost_now REAL NOT NULL DEFAULT 0,
    total_cost_late REAL NOT NULL DEFAULT 0,
    report_json TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_run_reports_repo ON run_reports(repository, started_at);
`
