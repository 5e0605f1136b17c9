package history

// Schema is the DDL for the run history tables.
const Schema = `
-- One row per pipeline run
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    blocks       TEXT NOT NULL DEFAULT '',
    iteration    INTEGER NOT NULL DEFAULT 1,
    passed       INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    errored      INTEGER NOT NULL DEFAULT 0,
    summary_path TEXT NOT NULL DEFAULT '',
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Per-element outcomes, in request order within a run
CREATE TABLE IF NOT EXISTS results (
    id                TEXT PRIMARY KEY,
    run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position          INTEGER NOT NULL,
    element_key       TEXT NOT NULL,
    block             TEXT NOT NULL,
    story             TEXT NOT NULL DEFAULT '',
    node_id           TEXT NOT NULL DEFAULT '',
    file_id           TEXT NOT NULL DEFAULT '',
    passed            INTEGER NOT NULL DEFAULT 0,
    mismatch_ratio    REAL NOT NULL DEFAULT 0,
    threshold_percent REAL NOT NULL DEFAULT 0,
    mismatched        INTEGER NOT NULL DEFAULT 0,
    total             INTEGER NOT NULL DEFAULT 0,
    width             INTEGER NOT NULL DEFAULT 0,
    height            INTEGER NOT NULL DEFAULT 0,
    truncated         INTEGER NOT NULL DEFAULT 0,
    reference_path    TEXT NOT NULL DEFAULT '',
    impl_path         TEXT NOT NULL DEFAULT '',
    diff_path         TEXT NOT NULL DEFAULT '',
    report_path       TEXT NOT NULL DEFAULT '',
    error             TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, position);
CREATE INDEX IF NOT EXISTS idx_results_key ON results(element_key, created_at DESC);
`
