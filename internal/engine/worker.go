package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/roach88/txreplay/internal/result"
	"github.com/roach88/txreplay/internal/target"
	"github.com/roach88/txreplay/internal/trace"
)

// WorkerState is the transaction state of a worker between statements.
type WorkerState int

const (
	// StateIdle: no statement run yet, or the loop has exited.
	StateIdle WorkerState = iota
	// StateExecuting: last statement closed (or never opened) a transaction.
	StateExecuting
	// StatePendingTxn: a select or write ran since the last begin, commit or
	// rollback; the transaction must be closed before starting another.
	StatePendingTxn
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StatePendingTxn:
		return "pending_txn"
	}
	return "unknown"
}

// WorkerConfig is the per-worker replay configuration.
type WorkerConfig struct {
	ID         int
	Seed       int64
	Repeat     bool
	AllowWrite bool
	Sleep      SleepPolicy
}

// Worker replays the trace over one dedicated connection.
//
// A worker is driven in two steps: Connect, then Run. The scheduler holds
// workers between the two to line up their start.
type Worker struct {
	cfg    WorkerConfig
	store  *trace.Store
	alloc  *Allocator
	life   *Lifecycle
	dialer target.Dialer

	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	conn  target.Conn
	rng   *rand.Rand
	state WorkerState
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithMetrics records statement counters in m.
func WithMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the worker's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithClock replaces time.Now for statement timestamps.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// NewWorker creates a worker. It does not connect.
func NewWorker(cfg WorkerConfig, store *trace.Store, alloc *Allocator, life *Lifecycle, dialer target.Dialer, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:    cfg,
		store:  store,
		alloc:  alloc,
		life:   life,
		dialer: dialer,
		logger: slog.Default(),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", cfg.ID)
	return w
}

// ID returns the worker id.
func (w *Worker) ID() int {
	return w.cfg.ID
}

// State returns the worker's transaction state. Only meaningful from the
// worker's own goroutine or after Run returns.
func (w *Worker) State() WorkerState {
	return w.state
}

// Connect opens the worker's connection.
func (w *Worker) Connect(ctx context.Context) error {
	conn, err := w.dialer.Dial(ctx)
	if err != nil {
		return &ExecError{Code: ErrCodeConnect, Worker: w.cfg.ID, Err: err}
	}
	w.conn = conn
	w.logger.Debug("connected", "host", conn.Host())
	return nil
}

// Run replays statements until stop is requested or, without repeat, the
// trace runs out. It connects first if Connect has not been called. The
// connection is closed before Run returns.
//
// Running out of trace ends only this worker. Other workers finish the
// transactions they hold; the scheduler ends the run once all have exited.
//
// The returned set holds the records admitted by the measurement window. On
// a fatal execution error Run returns the partial set and an *ExecError.
//
// Stop is checked before each statement and interrupts sleeps. Statements
// already sent to the database are not cancelled.
func (w *Worker) Run(ctx context.Context) (*result.Set, error) {
	if w.conn == nil {
		if err := w.Connect(ctx); err != nil {
			return nil, err
		}
	}
	defer w.close()

	w.metrics.workerStarted()
	defer w.metrics.workerStopped()

	set := result.NewSet(w.cfg.ID, w.cfg.Seed)
	cursor := NewCursor(w.store, w.alloc, w.cfg.Sleep, w.rng)
	dbctx := context.WithoutCancel(ctx)

	w.state = StateExecuting
	defer func() { w.state = StateIdle }()

	for {
		for !w.stopping(ctx) {
			step, ok := cursor.Next()
			if !ok {
				break
			}

			if w.state == StatePendingTxn && cursor.NewTxn() {
				w.rollback(dbctx, RollbackOrphan, step.Txn)
			}

			start := w.now()
			if err := w.execute(dbctx, step); err != nil {
				return set, err
			}
			end := w.now()

			w.metrics.observeStatement(step.Statement.Kind, end.Sub(start))
			if w.life.Admits(start) {
				set.Add(result.Record{
					Host:      w.conn.Host(),
					Start:     start,
					End:       end,
					Statement: step.Statement,
				})
				w.metrics.recorded()
			}

			if step.Sleep != NoSleep {
				w.life.Sleep(step.Sleep)
			}
		}

		if w.state == StatePendingTxn {
			w.rollback(dbctx, RollbackEndOfTrace, cursor.Txn())
		}

		if w.stopping(ctx) {
			break
		}
		if !w.cfg.Repeat {
			w.logger.Debug("trace complete", "txn", cursor.Txn())
			break
		}

		w.logger.Debug("trace exhausted, restarting", "txn", cursor.Txn())
		w.alloc.Reinit()
	}

	return set, nil
}

// execute runs one statement and updates the transaction state.
func (w *Worker) execute(ctx context.Context, step Step) error {
	stmt := step.Statement

	var err error
	switch stmt.Kind {
	case trace.KindBegin:
		w.state = StateExecuting
		err = w.conn.Begin(ctx)

	case trace.KindCommit:
		w.state = StateExecuting
		if cerr := w.conn.Commit(ctx); cerr != nil {
			w.logger.Debug("commit failed", "txn", step.Txn, "error", cerr)
		}

	case trace.KindRollback:
		w.state = StateExecuting
		if rerr := w.conn.Rollback(ctx); rerr != nil {
			w.logger.Debug("rollback failed", "txn", step.Txn, "error", rerr)
		}

	case trace.KindSelect:
		w.state = StatePendingTxn
		_, err = w.conn.Select(ctx, stmt.Text, int64(w.rng.Int31()))

	case trace.KindTempTable:
		w.state = StatePendingTxn
		err = w.conn.Exec(ctx, stmt.Text)

	case trace.KindWrite:
		w.state = StatePendingTxn
		if w.cfg.AllowWrite {
			err = w.conn.Exec(ctx, stmt.Text)
		}
	}

	if err != nil {
		w.logger.Error("statement failed", "txn", step.Txn, "kind", stmt.Kind, "error", err)
		return &ExecError{
			Code:      codeFor(stmt.Kind),
			Worker:    w.cfg.ID,
			Txn:       step.Txn,
			Statement: stmt,
			Err:       err,
		}
	}
	return nil
}

// rollback closes a transaction the trace left open. Best effort.
func (w *Worker) rollback(ctx context.Context, reason string, txn uint64) {
	w.state = StateExecuting
	w.metrics.rollback(reason)
	if err := w.conn.Rollback(ctx); err != nil {
		w.logger.Debug("rollback failed", "reason", reason, "txn", txn, "error", err)
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	return w.life.StopRequested() || ctx.Err() != nil
}

func (w *Worker) close() {
	if w.conn == nil {
		return
	}
	if err := w.conn.Close(); err != nil {
		w.logger.Debug("close failed", "error", err)
	}
	w.conn = nil
}
