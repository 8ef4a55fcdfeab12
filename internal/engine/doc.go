// Package engine replays a loaded trace against the database under test.
//
// ARCHITECTURE:
//
// One Worker per simulated client, each on its own goroutine with its own
// connection. Workers share exactly three things:
//
//   - the read-only trace.Store
//   - the Allocator, which hands out transaction ids in increasing order
//   - the Lifecycle, holding the measurement window and the stop token
//
// Each worker pulls statements through its Cursor. When the cursor's current
// transaction runs out it allocates the next id, so workers interleave
// transactions rather than statements: a transaction is always replayed
// start to finish by one worker.
//
// Transaction state:
//
//	Idle ──Run──▶ Executing ◀──begin/commit/rollback── PendingTxn
//	                 │                                     ▲
//	                 └────────select/temp table/write──────┘
//
// A worker moving to a new transaction while in PendingTxn rolls back first;
// the trace did not close the old one. The same happens when the trace runs
// out.
//
// Errors from begin, select, temp-table and enabled write statements are
// fatal to the run (ExecError). Commit and rollback are best effort.
//
// Timing records are kept only for statements that start after the
// measurement window opens and before stop is requested.
package engine
