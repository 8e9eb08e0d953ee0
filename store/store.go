// CLAUDE:SUMMARY SQLite run history: one row per batch run and one per comparison result; implements compare.Recorder.
// Package store persists batch runs and their comparison results in SQLite
// so past runs can be listed and inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/wirediff/compare"
	"github.com/hazyhaar/wirediff/dbopen"
	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/scoring"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the run-history database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Run summarizes one batch run.
type Run struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, runID string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: begin run %s: %w", runID, err)
	}
	return nil
}

// Record stores the result at position seq of run runID.
func (s *Store) Record(ctx context.Context, runID string, seq int, r compare.Result) error {
	var analysis sql.NullString
	if r.Analysis != nil {
		b, err := json.Marshal(r.Analysis)
		if err != nil {
			return fmt.Errorf("store: encode analysis: %w", err)
		}
		analysis = sql.NullString{String: string(b), Valid: true}
	}

	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO results
			(run_id, seq, screen_name, url, viewport_w, viewport_h, status,
			 diff_pixels, total_pixels, wireframe_path, capture_path, diff_path,
			 error, error_kind, analysis, analysis_error, started_at, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		runID, seq, r.ScreenName, r.URL, r.Viewport.Width, r.Viewport.Height, string(r.Status),
		r.DiffPixels, r.TotalPixels, r.WireframePath, r.CapturePath, r.DiffPath,
		r.Error, string(r.ErrorKind), analysis, r.AnalysisError,
		r.StartedAt.UnixMilli(), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("store: record %s#%d: %w", runID, seq, err)
	}
	return nil
}

// FinishRun records the end of a run with its aggregate counts.
func (s *Store) FinishRun(ctx context.Context, runID string, completed, failed int) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE runs SET finished_at = ?, completed = ?, failed = ? WHERE run_id = ?`,
		time.Now().UnixMilli(), completed, failed, runID)
	if err != nil {
		return fmt.Errorf("store: finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, completed, failed
		FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Completed, &r.Failed); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Results returns the results of run runID in request order. ErrNotFound
// if the run does not exist.
func (s *Store) Results(ctx context.Context, runID string) ([]compare.Result, error) {
	var exists int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("store: lookup run: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT screen_name, url, viewport_w, viewport_h, status, diff_pixels, total_pixels,
		       wireframe_path, capture_path, diff_path, error, error_kind,
		       analysis, analysis_error, started_at, duration_ms
		FROM results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	defer rows.Close()

	out := []compare.Result{}
	for rows.Next() {
		var (
			r                compare.Result
			status, kind     string
			analysis         sql.NullString
			started, elapsed int64
		)
		if err := rows.Scan(&r.ScreenName, &r.URL, &r.Viewport.Width, &r.Viewport.Height,
			&status, &r.DiffPixels, &r.TotalPixels,
			&r.WireframePath, &r.CapturePath, &r.DiffPath, &r.Error, &kind,
			&analysis, &r.AnalysisError, &started, &elapsed); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		r.Status = compare.Status(status)
		r.ErrorKind = fault.Kind(kind)
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(elapsed) * time.Millisecond
		if analysis.Valid {
			var v scoring.Verdict
			if err := json.Unmarshal([]byte(analysis.String), &v); err == nil {
				r.Analysis = &v
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ compare.Recorder = (*Store)(nil)
