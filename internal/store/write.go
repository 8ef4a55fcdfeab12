package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/txreplay/internal/result"
)

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is the stored metadata of one replay.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	TracePath string    `json:"trace_path"`
	Threads   int       `json:"threads"`

	// Config is the effective configuration as JSON.
	Config string `json:"config"`

	StartedAt    time.Time `json:"started_at"`
	WindowOpenAt time.Time `json:"window_open_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`

	StopCause string `json:"stop_cause,omitempty"`
	LastTxn   uint64 `json:"last_txn"`
	Error     string `json:"error,omitempty"`
}

// Finish is the final state recorded by FinishRun.
type Finish struct {
	Status       RunStatus
	WindowOpenAt time.Time
	FinishedAt   time.Time
	StopCause    string
	LastTxn      uint64
	Error        string
}

// CreateRun inserts a run in the running state.
// Returns an error if a run with the same ID already exists.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	status := run.Status
	if status == "" {
		status = StatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, trace_path, threads, config, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(status),
		run.TracePath,
		run.Threads,
		run.Config,
		run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, f Finish) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, window_open_at = ?, finished_at = ?, stop_cause = ?, last_txn = ?, error = ?
		WHERE id = ?
	`,
		string(f.Status),
		nullTime(f.WindowOpenAt),
		nullTime(f.FinishedAt),
		nullString(f.StopCause),
		int64(f.LastTxn),
		nullString(f.Error),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: %w: %s", ErrRunNotFound, id)
	}
	return nil
}

// WriteReport stores every worker set and timing record of a report in a
// single transaction.
func (s *Store) WriteReport(ctx context.Context, runID string, report *result.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write report: begin: %w", err)
	}
	defer tx.Rollback()

	workerStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO workers (run_id, worker, seed) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write report: prepare workers: %w", err)
	}
	defer workerStmt.Close()

	timingStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO timings (run_id, worker, seq, kind, host, started_at, ended_at, statement)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write report: prepare timings: %w", err)
	}
	defer timingStmt.Close()

	for _, set := range report.Sets {
		if _, err := workerStmt.ExecContext(ctx, runID, set.Worker, set.Seed); err != nil {
			return fmt.Errorf("write report: worker %d: %w", set.Worker, err)
		}
		for seq, rec := range set.Records {
			_, err := timingStmt.ExecContext(ctx,
				runID,
				set.Worker,
				seq,
				int(rec.Statement.Kind),
				rec.Host,
				rec.Start.UnixNano(),
				rec.End.UnixNano(),
				rec.Statement.Text,
			)
			if err != nil {
				return fmt.Errorf("write report: worker %d record %d: %w", set.Worker, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write report: commit: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
