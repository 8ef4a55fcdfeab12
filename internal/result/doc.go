// Package result holds per-worker statement timings and renders them as the
// run report and a latency summary.
package result
