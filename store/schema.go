package store

// Schema is the DDL for run history.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    completed   INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS results (
    run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq            INTEGER NOT NULL,
    screen_name    TEXT NOT NULL,
    url            TEXT NOT NULL,
    viewport_w     INTEGER NOT NULL,
    viewport_h     INTEGER NOT NULL,
    status         TEXT NOT NULL,
    diff_pixels    INTEGER NOT NULL,
    total_pixels   INTEGER NOT NULL,
    wireframe_path TEXT NOT NULL DEFAULT '',
    capture_path   TEXT NOT NULL DEFAULT '',
    diff_path      TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    error_kind     TEXT NOT NULL DEFAULT '',
    analysis       TEXT,
    analysis_error TEXT NOT NULL DEFAULT '',
    started_at     INTEGER NOT NULL,
    duration_ms    INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_results_screen ON results(screen_name, started_at DESC);
`
