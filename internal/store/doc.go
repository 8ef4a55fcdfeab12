// Package store provides SQLite-backed storage for replay results.
//
// Each run gets a row in runs (identity, configuration as JSON, phase
// timestamps, stop cause, last transaction requested). Timing records go to
// timings, keyed by (run, worker, seq) so a stored report reads back in the
// exact order it was produced.
//
// # Database Configuration
//
//   - WAL mode: reports can be read while a run is being written
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait up to 5s for locks
//   - foreign_keys=ON: timings cannot outlive their run
//
// Timing records are written in one transaction per run after the workers
// have joined, never from the replay hot path.
package store
