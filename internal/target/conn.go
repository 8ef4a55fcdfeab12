// Package target connects workers to the database under test.
//
// Each worker owns exactly one Conn for its whole lifetime; connections are
// never shared. Transaction control is sent as plain statements so the
// replayed session sees the same BEGIN/COMMIT/ROLLBACK traffic the trace
// recorded.
package target

import "context"

// Conn is a dedicated database session.
//
// Thread-safety: a Conn is used by one goroutine only.
type Conn interface {
	// Host identifies the server this session talks to. It is copied into
	// every timing record.
	Host() string

	// Begin opens a transaction. If one is already open the server's
	// implicit-commit behaviour applies.
	Begin(ctx context.Context) error

	// Commit and Rollback end the current transaction. Callers treat errors
	// as best-effort.
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, text string) error

	// Select runs a query, binding param to its placeholder if it has one,
	// and returns the number of rows read. Rows are discarded.
	Select(ctx context.Context, text string, param int64) (int, error)

	// Close ends the session.
	Close() error
}

// Dialer opens new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
