package result

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/roach88/txreplay/internal/trace"
)

// Stats accumulates latency statistics for one statement kind.
// Durations are kept in microseconds for percentile calculation.
type Stats struct {
	Count     int     `json:"count"`
	Durations []int64 `json:"-"`
	TotalUs   int64   `json:"total_us"`
	MinUs     int64   `json:"min_us"`
	MaxUs     int64   `json:"max_us"`
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{MinUs: -1, MaxUs: -1}
}

// Add records one duration.
func (s *Stats) Add(d time.Duration) {
	us := d.Microseconds()
	if us < 0 {
		us = 0
	}
	s.Count++
	s.TotalUs += us
	s.Durations = append(s.Durations, us)

	if s.MinUs == -1 || us < s.MinUs {
		s.MinUs = us
	}
	if s.MaxUs == -1 || us > s.MaxUs {
		s.MaxUs = us
	}
}

// Min returns the minimum duration, or 0 if empty.
func (s *Stats) Min() int64 {
	if s.MinUs == -1 {
		return 0
	}
	return s.MinUs
}

// Max returns the maximum duration, or 0 if empty.
func (s *Stats) Max() int64 {
	if s.MaxUs == -1 {
		return 0
	}
	return s.MaxUs
}

// Avg returns the mean duration in microseconds.
func (s *Stats) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalUs) / float64(s.Count)
}

// Percentile returns the p-th percentile (0..100) using linear interpolation
// between the closest ranks.
func (s *Stats) Percentile(p float64) int64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := make([]int64, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

// KindSummary is the JSON/text view of one row of a Summary.
type KindSummary struct {
	Kind  string  `json:"kind"`
	Count int     `json:"count"`
	MinUs int64   `json:"min_us"`
	MaxUs int64   `json:"max_us"`
	AvgUs float64 `json:"avg_us"`
	P50Us int64   `json:"p50_us"`
	P95Us int64   `json:"p95_us"`
	P99Us int64   `json:"p99_us"`
}

// Summary holds per-kind latency statistics for a report.
type Summary struct {
	Workers int           `json:"workers"`
	Records int           `json:"records"`
	Kinds   []KindSummary `json:"kinds"`
	Total   KindSummary   `json:"total"`
}

// Summarize computes latency statistics per statement kind. Kinds with no
// records are omitted.
func Summarize(r *Report) Summary {
	byKind := make(map[trace.Kind]*Stats, len(trace.Kinds))
	total := NewStats()
	for _, s := range r.Sets {
		for _, rec := range s.Records {
			st, ok := byKind[rec.Statement.Kind]
			if !ok {
				st = NewStats()
				byKind[rec.Statement.Kind] = st
			}
			st.Add(rec.Elapsed())
			total.Add(rec.Elapsed())
		}
	}

	sum := Summary{
		Workers: len(r.Sets),
		Records: total.Count,
		Total:   row("total", total),
	}
	for _, k := range trace.Kinds {
		if st, ok := byKind[k]; ok {
			sum.Kinds = append(sum.Kinds, row(k.String(), st))
		}
	}
	return sum
}

func row(name string, s *Stats) KindSummary {
	return KindSummary{
		Kind:  name,
		Count: s.Count,
		MinUs: s.Min(),
		MaxUs: s.Max(),
		AvgUs: s.Avg(),
		P50Us: s.Percentile(50),
		P95Us: s.Percentile(95),
		P99Us: s.Percentile(99),
	}
}

// WriteText renders the summary as an aligned table.
func (s Summary) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "workers: %d  records: %d\n", s.Workers, s.Records)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCOUNT\tMIN(us)\tAVG(us)\tP50(us)\tP95(us)\tP99(us)\tMAX(us)")
	rows := append(append([]KindSummary{}, s.Kinds...), s.Total)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%d\t%d\t%d\t%d\n",
			r.Kind, r.Count, r.MinUs, r.AvgUs, r.P50Us, r.P95Us, r.P99Us, r.MaxUs)
	}
	return tw.Flush()
}
