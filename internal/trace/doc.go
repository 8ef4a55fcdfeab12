// Package trace loads recorded transaction traces.
//
// A trace is a text file with one statement per line:
//
//	<ignored> <ignored> <code> <txn> [<statement text...>]
//
// where code is B (begin), C (commit), R (rollback), S (select) or W (write).
// Statements are grouped by their 1-based transaction number; numbers may
// appear in any order and gaps become empty transactions. Writes that create
// or drop temporary tables are classified separately so they can run even
// when writes are disabled.
package trace
