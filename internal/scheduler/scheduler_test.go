package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txreplay/internal/engine"
	"github.com/roach88/txreplay/internal/testutil"
	"github.com/roach88/txreplay/internal/trace"
)

func txnLines(n int) []string {
	var lines []string
	for i := 1; i <= n; i++ {
		lines = append(lines,
			fmt.Sprintf("a b B %d", i),
			fmt.Sprintf("a b S %d select %d", i, i),
			fmt.Sprintf("a b C %d", i),
		)
	}
	return lines
}

func newDeps(t *testing.T, store *trace.Store, dialer *testutil.RecordingDialer) Deps {
	return Deps{
		Store:   store,
		Dialer:  dialer,
		Metrics: engine.NewMetrics(),
		Logger:  testutil.DiscardLogger(),
	}
}

func TestScheduler_BarrierRunsTraceOnce(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(6)...)
	dialer := testutil.NewRecordingDialer()

	s := New(Config{
		Threads: 3,
		Run:     10 * time.Second,
		Sleep:   engine.SleepPolicy{Mode: engine.SleepDisabled},
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StopTraceComplete, out.Cause)
	assert.Equal(t, 3, dialer.Dialed())
	assert.Equal(t, 3, dialer.Count(testutil.OpClose, ""))
	assert.Equal(t, 6, dialer.Count(testutil.OpBegin, ""), "every transaction is started exactly once")
	assert.Equal(t, 6, dialer.Count(testutil.OpCommit, ""), "every transaction runs to its commit")
	assert.Zero(t, dialer.Count(testutil.OpRollback, ""))
	for i := 1; i <= 6; i++ {
		assert.Equal(t, 1, dialer.Count(testutil.OpSelect, fmt.Sprintf("select %d", i)))
	}
	assert.GreaterOrEqual(t, out.LastTxn, uint64(7))
	assert.Less(t, out.FinishedAt.Sub(out.StartedAt), 10*time.Second, "trace completion ends the run early")

	require.Len(t, out.Report.Sets, 3)
	for i, set := range out.Report.Sets {
		assert.Equal(t, i, set.Worker)
		assert.Equal(t, int64(i+1), set.Seed)
	}
}

func TestScheduler_TraceCompleteWaitsForEveryWorker(t *testing.T) {
	store := testutil.LoadTrace(t,
		"a b B 1", "a b S 1 q1", "a b C 1",
		"a b B 2", "a b S 2 q2", "a b S 2 q3", "a b S 2 q4", "a b C 2",
	)
	dialer := testutil.NewRecordingDialer()

	s := New(Config{
		Threads: 2,
		Run:     10 * time.Second,
		Sleep:   engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: 20 * time.Millisecond},
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StopTraceComplete, out.Cause)
	assert.Equal(t, 2, dialer.Count(testutil.OpCommit, ""), "the longer transaction is not cut off")
	assert.Zero(t, dialer.Count(testutil.OpRollback, ""))
	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		assert.Equal(t, 1, dialer.Count(testutil.OpSelect, q))
	}
	assert.Less(t, out.FinishedAt.Sub(out.StartedAt), 10*time.Second)
}

func TestScheduler_SingleWorkerOnePass(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(5)...)
	dialer := testutil.NewRecordingDialer()

	s := New(Config{
		Threads: 1,
		Run:     2 * time.Second,
		Sleep:   engine.SleepPolicy{Mode: engine.SleepDisabled},
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StopTraceComplete, out.Cause)
	assert.Equal(t, uint64(6), out.LastTxn)

	var want []string
	for i := 1; i <= 5; i++ {
		want = append(want, "begin", fmt.Sprintf("select select %d", i), "commit")
	}
	var got []string
	for _, c := range dialer.CallsFor(0) {
		if c.Op != testutil.OpDial && c.Op != testutil.OpClose {
			got = append(got, c.String())
		}
	}
	assert.Equal(t, want, got, "exactly one pass in trace order")
}

func TestScheduler_SingleWorkerRepeatReplaysWholePasses(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(4)...)
	dialer := testutil.NewRecordingDialer()

	s := New(Config{
		Threads: 1,
		Run:     100 * time.Millisecond,
		Repeat:  true,
		Sleep:   engine.SleepPolicy{Mode: engine.SleepDisabled},
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.StopDeadline, out.Cause)

	var selects []string
	for _, c := range dialer.CallsFor(0) {
		if c.Op == testutil.OpSelect {
			selects = append(selects, c.Text)
		}
	}
	require.Greater(t, len(selects), 4, "more than one pass")
	for i, text := range selects {
		assert.Equal(t, fmt.Sprintf("select %d", i%4+1), text, "pass restarts at transaction 1")
	}

	require.Len(t, out.Report.Sets, 1)
	records := out.Report.Sets[0].Records
	require.NotEmpty(t, records)
	for i := 1; i < len(records); i++ {
		assert.True(t, records[i].Start.After(records[i-1].Start), "record %d does not start after its predecessor", i)
	}
}

func TestScheduler_PhaseInstantsUseInjectedClock(t *testing.T) {
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := testutil.NewStepClock(base, time.Millisecond)

	store := testutil.LoadTrace(t, txnLines(2)...)
	deps := newDeps(t, store, testutil.NewRecordingDialer())
	deps.Clock = clock.Now

	out, err := New(Config{
		Threads: 1,
		Run:     20 * time.Millisecond,
		Repeat:  true,
		Sleep:   engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: time.Millisecond},
	}, deps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StopDeadline, out.Cause)
	assert.True(t, out.StartedAt.Equal(base))
	assert.True(t, out.WindowOpenAt.After(out.StartedAt))
	assert.True(t, out.FinishedAt.After(out.WindowOpenAt))
	assert.False(t, out.FinishedAt.After(base.Add(time.Duration(clock.Calls())*time.Millisecond)),
		"finish instant comes from the injected clock")
}

func TestScheduler_RepeatRunsUntilDeadline(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(3)...)
	dialer := testutil.NewRecordingDialer()

	s := New(Config{
		Threads:  2,
		Seed:     100,
		Rampup:   30 * time.Millisecond,
		Run:      60 * time.Millisecond,
		Rampdown: 10 * time.Millisecond,
		Repeat:   true,
		Sleep:    engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: time.Millisecond},
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StopDeadline, out.Cause)
	assert.False(t, out.WindowOpenAt.IsZero())
	assert.True(t, s.Lifecycle().WindowOpen())

	require.Len(t, out.Report.Sets, 2)
	assert.Equal(t, int64(101), out.Report.Sets[0].Seed)
	assert.Equal(t, int64(102), out.Report.Sets[1].Seed)

	total := 0
	for _, set := range out.Report.Sets {
		for _, r := range set.Records {
			assert.False(t, r.Start.Before(out.WindowOpenAt), "record before the window opened")
			total++
		}
	}
	assert.Positive(t, total)

	// Repeat mode replays the trace more than once.
	assert.Greater(t, dialer.Count(testutil.OpBegin, ""), 3)
}

func TestScheduler_WorkerErrorAbortsRun(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(4)...)
	dialer := testutil.NewRecordingDialer()
	dialer.FailOn(testutil.OpSelect, "select 2", nil)

	s := New(Config{
		Threads: 2,
		Run:     10 * time.Second,
		Repeat:  true,
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, out, "no report after a fatal error")
	assert.Equal(t, engine.ErrCodeSelect, engine.ExecErrorCodeOf(err))
	assert.Equal(t, engine.StopAborted, s.Lifecycle().Cause())
	assert.Equal(t, 2, dialer.Count(testutil.OpClose, ""))
}

func TestScheduler_ConnectFailureAbortsRun(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(1)...)
	dialer := testutil.NewRecordingDialer()
	dialer.FailDial = errors.New("connection refused")

	s := New(Config{Threads: 2, Run: 10 * time.Second}, newDeps(t, store, dialer))

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeConnect, engine.ExecErrorCodeOf(err))
	assert.Equal(t, engine.StopAborted, s.Lifecycle().Cause())
}

func TestScheduler_ContextCancelIsSignalStop(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(2)...)
	dialer := testutil.NewRecordingDialer()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	s := New(Config{
		Threads: 2,
		Run:     time.Hour,
		Repeat:  true,
		Sleep:   engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: time.Millisecond},
	}, newDeps(t, store, dialer))

	out, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StopSignal, out.Cause)
	assert.Less(t, out.FinishedAt.Sub(out.StartedAt), time.Minute)
	assert.Len(t, out.Report.Sets, 2)
}

func TestScheduler_ExternalStop(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(2)...)
	dialer := testutil.NewRecordingDialer()
	life := engine.NewLifecycle()

	deps := newDeps(t, store, dialer)
	deps.Lifecycle = life

	time.AfterFunc(20*time.Millisecond, func() { life.Stop(engine.StopSignal) })

	s := New(Config{Threads: 1, Run: time.Hour, Repeat: true,
		Sleep: engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: time.Millisecond}}, deps)

	out, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Same(t, life, s.Lifecycle())
	assert.Equal(t, engine.StopSignal, out.Cause)
}

func TestScheduler_StaggeredStartsAllWorkers(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(2)...)
	dialer := testutil.NewRecordingDialer()

	s := New(Config{
		Threads:   4,
		Staggered: true,
		Seed:      7,
		Rampup:    400 * time.Millisecond,
		Run:       20 * time.Millisecond,
		Repeat:    true,
		Sleep:     engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: time.Millisecond},
	}, newDeps(t, store, dialer))

	out, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StopDeadline, out.Cause)
	assert.Equal(t, 4, dialer.Dialed())
	require.Len(t, out.Report.Sets, 4)
	assert.GreaterOrEqual(t, out.WindowOpenAt.Sub(out.StartedAt), 400*time.Millisecond)
}

func TestScheduler_StaggeredStopAbortsStarts(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(1)...)
	dialer := testutil.NewRecordingDialer()
	life := engine.NewLifecycle()
	life.Stop(engine.StopSignal)

	deps := newDeps(t, store, dialer)
	deps.Lifecycle = life

	s := New(Config{Threads: 5, Staggered: true, Rampup: time.Second}, deps)
	out, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, dialer.Dialed())
	assert.Empty(t, out.Report.Sets)
	assert.True(t, out.WindowOpenAt.IsZero(), "window never opens after an early stop")
}

func TestScheduler_BarrierReleasesTogether(t *testing.T) {
	store := testutil.LoadTrace(t, txnLines(8)...)
	dialer := testutil.NewRecordingDialer()

	// Count statements issued before the last connection was made.
	var dialed, early atomic.Int32
	dialer.OnCall(func(c testutil.Call) {
		switch c.Op {
		case testutil.OpDial:
			dialed.Add(1)
		case testutil.OpBegin:
			if dialed.Load() < 4 {
				early.Add(1)
			}
		}
	})

	s := New(Config{Threads: 4, Run: 10 * time.Second}, newDeps(t, store, dialer))
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(0), early.Load(), "no worker starts before all are connected")
}

func TestScheduler_RejectsBadInput(t *testing.T) {
	dialer := testutil.NewRecordingDialer()

	empty := testutil.LoadTrace(t, "garbage")
	_, err := New(Config{Threads: 1}, newDeps(t, empty, dialer)).Run(context.Background())
	assert.ErrorIs(t, err, ErrEmptyTrace)

	store := testutil.LoadTrace(t, txnLines(1)...)
	_, err = New(Config{Threads: 0}, newDeps(t, store, dialer)).Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, dialer.Dialed())
}

func TestStaggerOffsets(t *testing.T) {
	offsets := StaggerOffsets(50, 10*time.Second, 3)

	require.Len(t, offsets, 50)
	assert.True(t, sort.SliceIsSorted(offsets, func(i, j int) bool { return offsets[i] < offsets[j] }))
	for _, o := range offsets {
		assert.GreaterOrEqual(t, o, time.Duration(0))
		assert.Less(t, o, 5*time.Second)
	}

	assert.Equal(t, offsets, StaggerOffsets(50, 10*time.Second, 3), "same seed, same offsets")

	zero := StaggerOffsets(3, 0, 1)
	assert.Equal(t, []time.Duration{0, 0, 0}, zero)
}
