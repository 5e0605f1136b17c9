// Package history provides the SQLite record of comparison runs and their
// per-element outcomes.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/designcheck/dbopen"
	"github.com/hazyhaar/designcheck/outcome"
	"github.com/hazyhaar/designcheck/verdict"
)

// Store is the history database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the history database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Run is one row of the run listing.
type Run struct {
	ID          string    `json:"id"`
	Blocks      []string  `json:"blocks"`
	Iteration   int       `json:"iteration"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Errored     int       `json:"errored"`
	SummaryPath string    `json:"summary_path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// SaveRun writes the run and all its results in one transaction. Saving the
// same run again replaces its results.
func (s *Store) SaveRun(ctx context.Context, sum *outcome.Summary) error {
	if sum.RunID == "" {
		return errors.New("history: run id is required")
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, blocks, iteration, passed, failed, errored, summary_path, started_at, finished_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				blocks=excluded.blocks, iteration=excluded.iteration,
				passed=excluded.passed, failed=excluded.failed, errored=excluded.errored,
				summary_path=excluded.summary_path, finished_at=excluded.finished_at`,
			sum.RunID, strings.Join(sum.Blocks, ","), sum.Iteration,
			sum.Passed, sum.Failed, sum.Errored, sum.SummaryPath,
			millis(sum.StartedAt), millis(sum.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("history: insert run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id = ?`, sum.RunID); err != nil {
			return fmt.Errorf("history: clear results: %w", err)
		}
		for i, r := range sum.Results {
			if err := insertResult(ctx, tx, sum.RunID, i, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertResult(ctx context.Context, tx *sql.Tx, runID string, pos int, r outcome.ElementResult) error {
	id := r.ID
	if id == "" {
		id = fmt.Sprintf("%s-%d", runID, pos)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO results (id, run_id, position, element_key, block, story, node_id, file_id,
			passed, mismatch_ratio, threshold_percent, mismatched, total, width, height, truncated,
			reference_path, impl_path, diff_path, report_path, error, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, runID, pos, r.Key, r.Block, r.Story, r.NodeID, r.FileID,
		boolInt(r.Passed), r.MismatchRatio, r.ThresholdPercent, r.Mismatched, r.Total,
		r.Width, r.Height, boolInt(r.Truncated),
		r.ReferencePath, r.ImplPath, r.DiffPath, r.ReportPath, r.Error, millis(created),
	)
	if err != nil {
		return fmt.Errorf("history: insert result %s: %w", r.Key, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, blocks, iteration, passed, failed, errored, summary_path, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                 Run
		blocks            string
		started, finished int64
	)
	if err := sc.Scan(&r.ID, &blocks, &r.Iteration, &r.Passed, &r.Failed, &r.Errored,
		&r.SummaryPath, &started, &finished); err != nil {
		return nil, err
	}
	if blocks != "" {
		r.Blocks = strings.Split(blocks, ",")
	}
	r.StartedAt = fromMillis(started)
	r.FinishedAt = fromMillis(finished)
	return &r, nil
}

// GetRun loads a run with its results in request order. Returns nil, nil
// when the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*outcome.Summary, error) {
	run, err := scanRun(s.DB.QueryRowContext(ctx, `
		SELECT id, blocks, iteration, passed, failed, errored, summary_path, started_at, finished_at
		FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: get run: %w", err)
	}

	results, err := s.queryResults(ctx, `WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	return &outcome.Summary{
		RunID:       run.ID,
		Blocks:      run.Blocks,
		Iteration:   run.Iteration,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Results:     results,
		Passed:      run.Passed,
		Failed:      run.Failed,
		Errored:     run.Errored,
		SummaryPath: run.SummaryPath,
	}, nil
}

// ElementHistory returns the latest outcomes of one element key across runs,
// newest first. limit <= 0 means 20.
func (s *Store) ElementHistory(ctx context.Context, key string, limit int) ([]outcome.ElementResult, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryResults(ctx, `WHERE element_key = ? ORDER BY created_at DESC, run_id DESC LIMIT ?`, key, limit)
}

func (s *Store) queryResults(ctx context.Context, where string, args ...any) ([]outcome.ElementResult, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, element_key, block, story, node_id, file_id, passed, mismatch_ratio, threshold_percent,
			mismatched, total, width, height, truncated,
			reference_path, impl_path, diff_path, report_path, error, created_at
		FROM results `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query results: %w", err)
	}
	defer rows.Close()

	var out []outcome.ElementResult
	for rows.Next() {
		var (
			r                 outcome.ElementResult
			passed, truncated int
			created           int64
		)
		if err := rows.Scan(&r.ID, &r.Key, &r.Block, &r.Story, &r.NodeID, &r.FileID,
			&passed, &r.MismatchRatio, &r.ThresholdPercent, &r.Mismatched, &r.Total,
			&r.Width, &r.Height, &truncated,
			&r.ReferencePath, &r.ImplPath, &r.DiffPath, &r.ReportPath, &r.Error, &created); err != nil {
			return nil, fmt.Errorf("history: scan result: %w", err)
		}
		r.Passed = passed != 0
		r.Truncated = truncated != 0
		r.MismatchPercent = verdict.Verdict{MismatchRatio: r.MismatchRatio}.Display()
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
