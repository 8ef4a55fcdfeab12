// Package harness runs replay scenarios against a recording connection.
//
// A scenario carries an inline trace, the run shape, optional injected
// failures, and assertions on what the workers sent to the database. The
// real scheduler and workers execute it; only the database is replaced.
//
// # Scenario Format
//
//	name: orphan_rollback
//	description: "An unfinished transaction is rolled back before the next"
//	config:
//	  threads: 1
//	  allow_write: true
//	trace:
//	  - "0 0 B 1"
//	  - "0 0 S 1 select a from t"
//	  - "0 0 S 2 select b from t"
//	failures:
//	  - op: select
//	    text: "select c from t"
//	assertions:
//	  - type: call_order
//	    calls: ["select select a from t", "rollback", "select select b from t"]
//	  - type: call_count
//	    op: begin
//	    count: 1
//	  - type: stop_cause
//	    cause: trace_complete
//
// # Assertion Types
//
//   - call_count: an op (optionally with exact text) was called count times, or at least min times
//   - call_order: calls, rendered "<op> <text>", first appear in the given order
//   - stop_cause: none, signal, deadline, trace_complete, or aborted
//   - error_code: the ExecError code that failed the run, or none
//
// # Golden Files
//
// Single-worker scenarios are deterministic: the transcript of calls per
// connection is compared against testdata/golden/<name>.golden. With more
// workers the split of transactions between connections depends on
// scheduling, so only assertions apply.
package harness
