package result

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// WriteText writes the report in the line format consumed by the analysis
// scripts:
//
//	<worker> <kind> <host> <sec>.<usec> "<text>"
//
// kind is the numeric statement kind and usec is zero-padded to six digits.
// Each worker's block is followed by one blank line.
func (r *Report) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, s := range r.Sets {
		for _, rec := range s.Records {
			if err := writeLine(bw, s.Worker, rec); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeLine(w io.Writer, worker int, rec Record) error {
	sec, usec := splitMicros(rec.Elapsed())
	_, err := fmt.Fprintf(w, "%d %d %s %d.%06d \"%s\"\n",
		worker,
		int(rec.Statement.Kind),
		rec.Host,
		sec,
		usec,
		rec.Statement.Text,
	)
	return err
}

// splitMicros splits a duration into whole seconds and the microsecond
// remainder. Negative durations (clock steps) are clamped to zero.
func splitMicros(d time.Duration) (sec, usec int64) {
	if d < 0 {
		d = 0
	}
	us := d.Microseconds()
	return us / 1_000_000, us % 1_000_000
}
