package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/txreplay/internal/config"
	"github.com/roach88/txreplay/internal/engine"
	"github.com/roach88/txreplay/internal/scheduler"
	"github.com/roach88/txreplay/internal/testutil"
	"github.com/roach88/txreplay/internal/trace"
)

// defaultRun bounds scenarios that do not set a run phase. Runs without
// repeat normally end earlier, when the trace is exhausted.
const defaultRun = time.Minute

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates every assertion held.
	Pass bool `json:"pass"`

	// Calls is the global call log across all connections.
	Calls []testutil.Call `json:"calls"`

	// Transcript is the per-connection call log.
	Transcript string `json:"transcript"`

	// Cause is why the run stopped.
	Cause string `json:"cause"`

	// ErrorCode is the execution error code, or "none".
	ErrorCode string `json:"error_code"`

	// Records is the number of timing records admitted by the window.
	Records int `json:"records"`

	// Threads is the number of workers that ran.
	Threads int `json:"threads"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Deterministic reports whether the transcript is reproducible across runs.
// With more than one worker, which worker gets which transaction depends on
// scheduling.
func (r *Result) Deterministic() bool {
	return r.Threads == 1
}

// Count returns how many calls of op were made.
func (r *Result) Count(op string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Snapshot renders the outcome and transcript for golden comparison.
func (r *Result) Snapshot(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "cause: %s\n", r.Cause)
	fmt.Fprintf(&b, "error: %s\n", r.ErrorCode)
	b.WriteString(r.Transcript)
	return []byte(b.String())
}

// Option configures Run.
type Option func(*runner)

// WithLogger routes run logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

type runner struct {
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh trace store, allocator and recording dialer.
// Execution errors are part of the result (ErrorCode); Run itself fails
// only when the scenario cannot be set up.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	r := &runner{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(r)
	}

	store := trace.NewStore(r.logger)
	if err := store.LoadReader(strings.NewReader(strings.Join(scenario.Trace, "\n")+"\n"), scenario.Name); err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}

	dialer := testutil.NewRecordingDialer()
	for _, f := range scenario.Failures {
		dialer.FailOn(f.Op, f.Text, nil)
	}

	cfg := schedulerConfig(scenario.Config)
	s := scheduler.New(cfg, scheduler.Deps{
		Store:   store,
		Dialer:  dialer,
		Metrics: engine.NewMetrics(),
		Logger:  r.logger,
	})

	out, err := s.Run(ctx)
	if errors.Is(err, scheduler.ErrEmptyTrace) {
		return nil, err
	}

	result := &Result{
		Pass:       true,
		Calls:      dialer.Calls(),
		Transcript: dialer.Transcript(),
		Cause:      s.Lifecycle().Cause().String(),
		ErrorCode:  ErrorCodeNone,
		Threads:    cfg.Threads,
		Errors:     []string{},
	}
	if err != nil {
		code := engine.ExecErrorCodeOf(err)
		if code == "" {
			return nil, fmt.Errorf("run failed: %w", err)
		}
		result.ErrorCode = string(code)
	} else {
		result.Records = out.Report.Records()
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func schedulerConfig(sc ScenarioConfig) scheduler.Config {
	cfg := config.DefaultConfig()
	cfg.Threads = sc.Threads
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}
	cfg.Seed = sc.Seed
	cfg.Repeat = sc.Repeat
	cfg.AllowWrite = sc.AllowWrite
	cfg.DelayedStart = sc.Staggered
	cfg.Sleep = config.SleepConfig{Mode: sc.Sleep, Fixed: sc.SleepFixed}
	if cfg.Sleep.Mode == "" {
		cfg.Sleep.Mode = config.SleepOff
	}
	cfg.Rampup = sc.Rampup
	cfg.Run = sc.Run
	if cfg.Run == 0 {
		cfg.Run = config.Duration(defaultRun)
	}
	cfg.Rampdown = sc.Rampdown
	return cfg.SchedulerConfig()
}
