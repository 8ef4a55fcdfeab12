package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/txreplay/internal/result"
	"github.com/roach88/txreplay/internal/trace"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, status, trace_path, threads, config, started_at,
	window_open_at, finished_at, stop_cause, last_txn, error`

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, oldest first.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadReport rebuilds the report stored for a run: sets in worker order,
// records in the order they were produced.
func (s *Store) ReadReport(ctx context.Context, runID string) (*result.Report, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	wrows, err := s.db.QueryContext(ctx, `
		SELECT worker, seed FROM workers
		WHERE run_id = ?
		ORDER BY worker ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}

	report := &result.Report{}
	byWorker := make(map[int]*result.Set)
	for wrows.Next() {
		var worker int
		var seed int64
		if err := wrows.Scan(&worker, &seed); err != nil {
			wrows.Close()
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		set := result.NewSet(worker, seed)
		report.Sets = append(report.Sets, set)
		byWorker[worker] = set
	}
	if err := wrows.Err(); err != nil {
		wrows.Close()
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	wrows.Close()

	trows, err := s.db.QueryContext(ctx, `
		SELECT worker, kind, host, started_at, ended_at, statement
		FROM timings
		WHERE run_id = ?
		ORDER BY worker ASC, seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query timings: %w", err)
	}
	defer trows.Close()

	for trows.Next() {
		var (
			worker, kind   int
			host, text     string
			startNs, endNs int64
		)
		if err := trows.Scan(&worker, &kind, &host, &startNs, &endNs, &text); err != nil {
			return nil, fmt.Errorf("scan timing: %w", err)
		}
		set, ok := byWorker[worker]
		if !ok {
			return nil, fmt.Errorf("timing for unknown worker %d", worker)
		}
		set.Add(result.Record{
			Host:      host,
			Start:     time.Unix(0, startNs).UTC(),
			End:       time.Unix(0, endNs).UTC(),
			Statement: trace.Statement{Kind: trace.Kind(kind), Text: text},
		})
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timings: %w", err)
	}

	return report, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run          Run
		status       string
		startedAt    int64
		windowOpenAt sql.NullInt64
		finishedAt   sql.NullInt64
		stopCause    sql.NullString
		lastTxn      sql.NullInt64
		errText      sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&status,
		&run.TracePath,
		&run.Threads,
		&run.Config,
		&startedAt,
		&windowOpenAt,
		&finishedAt,
		&stopCause,
		&lastTxn,
		&errText,
	); err != nil {
		return Run{}, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if windowOpenAt.Valid {
		run.WindowOpenAt = time.Unix(0, windowOpenAt.Int64).UTC()
	}
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(0, finishedAt.Int64).UTC()
	}
	run.StopCause = stopCause.String
	run.LastTxn = uint64(lastTxn.Int64)
	run.Error = errText.String
	return run, nil
}
