package result

import (
	"time"

	"github.com/roach88/txreplay/internal/trace"
)

// Record is the timing of one executed (or skipped) statement.
type Record struct {
	Host      string
	Start     time.Time
	End       time.Time
	Statement trace.Statement
}

// Elapsed returns End - Start.
func (r Record) Elapsed() time.Duration {
	return r.End.Sub(r.Start)
}

// Set is the append-only list of records produced by one worker.
//
// Thread-safety: a Set is owned by exactly one worker goroutine until the
// worker exits; it is handed to the scheduler only after the join.
type Set struct {
	Worker  int
	Seed    int64
	Records []Record
}

// NewSet creates an empty set for the given worker.
func NewSet(worker int, seed int64) *Set {
	return &Set{Worker: worker, Seed: seed}
}

// Add appends a record.
func (s *Set) Add(r Record) {
	s.Records = append(s.Records, r)
}

// Len returns the number of records.
func (s *Set) Len() int {
	return len(s.Records)
}

// Report is the collection of all worker sets from one run, ordered by
// worker id.
type Report struct {
	Sets []*Set
}

// Records returns the total record count across all sets.
func (r *Report) Records() int {
	n := 0
	for _, s := range r.Sets {
		n += s.Len()
	}
	return n
}
