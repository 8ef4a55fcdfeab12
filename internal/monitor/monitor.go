// Package monitor samples host resource usage for the duration of a run.
//
// Samples are written one per line so they can be lined up against the
// timing report afterwards:
//
//	unix_ms cpu_pct mem_pct load1 load5 load15 net_sent net_recv
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Header is the first line written by a Monitor.
const Header = "# unix_ms cpu_pct mem_pct load1 load5 load15 net_sent net_recv"

// Sample is one observation of the host.
type Sample struct {
	At         time.Time
	CPUPercent float64
	MemPercent float64
	Load1      float64
	Load5      float64
	Load15     float64
	NetSent    uint64
	NetRecv    uint64
}

// Format renders the sample as one report line (without newline).
func (s Sample) Format() string {
	return fmt.Sprintf("%d %.1f %.1f %.2f %.2f %.2f %d %d",
		s.At.UnixMilli(), s.CPUPercent, s.MemPercent,
		s.Load1, s.Load5, s.Load15, s.NetSent, s.NetRecv)
}

// Source produces samples.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// HostSource samples the local host via gopsutil.
type HostSource struct{}

// Sample implements Source. Individual readings that are unsupported on the
// platform leave their fields zero.
func (HostSource) Sample(ctx context.Context) (Sample, error) {
	s := Sample{At: time.Now()}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("memory: %w", err)
	}
	s.MemPercent = vm.UsedPercent

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	if counters, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		s.NetSent = counters[0].BytesSent
		s.NetRecv = counters[0].BytesRecv
	}

	return s, nil
}

// Monitor writes samples from a Source at a fixed interval.
type Monitor struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSource replaces the host source.
func WithSource(src Source) Option {
	return func(m *Monitor) {
		m.source = src
	}
}

// WithLogger sets the logger used for sampling failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// New creates a monitor sampling every interval.
func New(interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		source:   HostSource{},
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run writes the header and one sample immediately, then one per interval,
// until ctx is cancelled or done is closed. A failed sample is logged and
// skipped; a failed write ends the run.
func (m *Monitor) Run(ctx context.Context, w io.Writer, done <-chan struct{}) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	written := 0
	for {
		s, err := m.source.Sample(ctx)
		if err != nil {
			m.logger.Warn("host sample failed", "error", err)
		} else {
			if _, err := fmt.Fprintln(bw, s.Format()); err != nil {
				return written, fmt.Errorf("write sample: %w", err)
			}
			if err := bw.Flush(); err != nil {
				return written, fmt.Errorf("flush samples: %w", err)
			}
			written++
		}

		select {
		case <-ctx.Done():
			return written, bw.Flush()
		case <-done:
			return written, bw.Flush()
		case <-ticker.C:
		}
	}
}
