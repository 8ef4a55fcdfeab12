// Package scheduler runs the rampup, steady-state and rampdown phases of a
// replay and collects the workers' results.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/txreplay/internal/engine"
	"github.com/roach88/txreplay/internal/result"
	"github.com/roach88/txreplay/internal/target"
	"github.com/roach88/txreplay/internal/trace"
)

// staggerSleepThreshold: in staggered mode the orchestrator only sleeps
// before a worker start that is further away than this.
const staggerSleepThreshold = 100 * time.Millisecond

// ErrEmptyTrace is returned when the trace holds no statements.
var ErrEmptyTrace = errors.New("trace has no statements")

// Config controls the phases of a run.
type Config struct {
	Threads int

	// Staggered starts workers at random offsets within the first half of
	// rampup instead of releasing them together.
	Staggered bool

	// Seed drives stagger offsets; worker i is seeded with Seed+i+1.
	Seed int64

	Rampup   time.Duration
	Run      time.Duration
	Rampdown time.Duration

	Repeat     bool
	AllowWrite bool
	Sleep      engine.SleepPolicy
}

// Deps are the collaborators of a run. Store and Dialer are required.
type Deps struct {
	Store  *trace.Store
	Dialer target.Dialer

	// Lifecycle and Allocator are created if nil. Passing a Lifecycle lets
	// the caller request stop from outside (signal handling).
	Lifecycle *engine.Lifecycle
	Allocator *engine.Allocator

	Metrics *engine.Metrics
	Logger  *slog.Logger

	// Clock is the run's time source: phase instants, the window opening and
	// statement stamps. Defaults to time.Now.
	Clock func() time.Time
}

// Outcome is what a completed run produced.
type Outcome struct {
	Report       *result.Report
	Cause        engine.StopCause
	LastTxn      uint64
	StartedAt    time.Time
	WindowOpenAt time.Time
	FinishedAt   time.Time
}

// Scheduler drives one run.
type Scheduler struct {
	cfg   Config
	store *trace.Store
	dial  target.Dialer
	life  *engine.Lifecycle
	alloc *engine.Allocator

	metrics *engine.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		store:   deps.Store,
		dial:    deps.Dialer,
		life:    deps.Lifecycle,
		alloc:   deps.Allocator,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     deps.Clock,
	}
	if s.life == nil {
		s.life = engine.NewLifecycle()
	}
	if s.alloc == nil {
		s.alloc = engine.NewAllocator(engine.WithAllocatorMetrics(deps.Metrics))
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Lifecycle returns the run's shared lifecycle.
func (s *Scheduler) Lifecycle() *engine.Lifecycle {
	return s.life
}

// Allocator returns the run's transaction allocator.
func (s *Scheduler) Allocator() *engine.Allocator {
	return s.alloc
}

// StaggerOffsets returns the sorted start offsets for n workers, uniform in
// [0, rampup/2).
func StaggerOffsets(n int, rampup time.Duration, seed int64) []time.Duration {
	rng := rand.New(rand.NewSource(seed))
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = time.Duration(rng.Float64() * float64(rampup/2))
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// Run executes the run and blocks until every worker has exited.
//
// Cancelling ctx requests stop with StopSignal. If a worker fails, the run
// is stopped with StopAborted and the worker's error is returned without a
// report. Without repeat, workers exit one by one as the trace runs out; when
// the last one has exited the remaining phases are cut short with
// StopTraceComplete.
func (s *Scheduler) Run(ctx context.Context) (*Outcome, error) {
	if s.cfg.Threads < 1 {
		return nil, fmt.Errorf("threads must be at least 1, got %d", s.cfg.Threads)
	}
	if s.store.Stats().Statements == 0 {
		return nil, ErrEmptyTrace
	}

	out := &Outcome{StartedAt: s.now()}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		select {
		case <-watchCtx.Done():
			if ctx.Err() != nil && s.life.Stop(engine.StopSignal) {
				s.logger.Info("early finish", "cause", engine.StopSignal)
			}
		case <-s.life.Done():
		}
	}()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		sets   = make(map[int]*result.Set, s.cfg.Threads)
		exited sync.WaitGroup
	)
	exited.Add(s.cfg.Threads)
	go s.watchExits(ctx, &exited)

	launch := func(id int, ready func(), release <-chan struct{}) {
		w := engine.NewWorker(engine.WorkerConfig{
			ID:         id,
			Seed:       s.cfg.Seed + int64(id) + 1,
			Repeat:     s.cfg.Repeat,
			AllowWrite: s.cfg.AllowWrite,
			Sleep:      s.cfg.Sleep,
		}, s.store, s.alloc, s.life, s.dial,
			engine.WithMetrics(s.metrics),
			engine.WithLogger(s.logger),
			engine.WithClock(s.now),
		)

		g.Go(func() error {
			defer exited.Done()

			if err := w.Connect(ctx); err != nil {
				ready()
				if ctx.Err() != nil {
					return nil
				}
				s.abort(id, err)
				return err
			}
			ready()

			if release != nil {
				select {
				case <-release:
				case <-s.life.Done():
				}
			}

			set, err := w.Run(ctx)
			if set != nil {
				mu.Lock()
				sets[id] = set
				mu.Unlock()
			}
			if err != nil {
				s.abort(id, err)
				return err
			}
			return nil
		})
	}

	var (
		rampupFrom time.Time
		launched   int
	)
	if s.cfg.Staggered {
		rampupFrom = out.StartedAt
		launched = s.startStaggered(launch, out.StartedAt)
	} else {
		launched = s.startBarrier(launch)
		rampupFrom = s.now()
	}
	for ; launched < s.cfg.Threads; launched++ {
		exited.Done()
	}

	if remaining := s.cfg.Rampup - s.now().Sub(rampupFrom); remaining > 0 {
		s.life.Sleep(remaining)
	}
	if !s.life.StopRequested() {
		out.WindowOpenAt = s.now()
		s.life.OpenWindow(out.WindowOpenAt)
		s.logger.Info("rampup finished", "threads", s.cfg.Threads)
	}

	if s.life.Sleep(s.cfg.Run) {
		s.logger.Info("running finished")
	}
	if s.life.Sleep(s.cfg.Rampdown) {
		s.logger.Info("rampdown finished")
	}
	if !s.life.Stop(engine.StopDeadline) {
		s.logger.Info("early finish", "cause", s.life.Cause())
	}

	err := g.Wait()

	out.Cause = s.life.Cause()
	out.LastTxn = s.alloc.Last()
	out.FinishedAt = s.now()
	s.logger.Info("last transaction requested", "txn", out.LastTxn)

	if err != nil {
		return nil, err
	}

	out.Report = &result.Report{}
	for id := 0; id < s.cfg.Threads; id++ {
		if set, ok := sets[id]; ok {
			out.Report.Sets = append(out.Report.Sets, set)
		}
	}
	return out, nil
}

// startBarrier launches every worker, waits until all are connected (or stop
// is requested) and releases them together. It returns the number launched.
func (s *Scheduler) startBarrier(launch func(int, func(), <-chan struct{})) int {
	var ready sync.WaitGroup
	ready.Add(s.cfg.Threads)
	release := make(chan struct{})

	for id := 0; id < s.cfg.Threads; id++ {
		launch(id, ready.Done, release)
	}

	allReady := make(chan struct{})
	go func() {
		ready.Wait()
		close(allReady)
	}()

	select {
	case <-allReady:
		s.logger.Debug("all workers connected", "threads", s.cfg.Threads)
	case <-s.life.Done():
		s.logger.Info("stop requested while connecting", "cause", s.life.Cause())
	}
	close(release)
	return s.cfg.Threads
}

// startStaggered launches workers one at a time at their stagger offsets,
// measured from start. Stop aborts the remaining launches. It returns the
// number launched.
func (s *Scheduler) startStaggered(launch func(int, func(), <-chan struct{}), start time.Time) int {
	offsets := StaggerOffsets(s.cfg.Threads, s.cfg.Rampup, s.cfg.Seed)

	for id, offset := range offsets {
		if s.life.StopRequested() {
			s.logger.Info("aborting remaining worker starts", "started", id, "threads", s.cfg.Threads)
			return id
		}
		if wait := offset - s.now().Sub(start); wait > staggerSleepThreshold {
			if !s.life.Sleep(wait) {
				s.logger.Info("aborting remaining worker starts", "started", id, "threads", s.cfg.Threads)
				return id
			}
		}
		launch(id, func() {}, nil)
		s.logger.Debug("worker started", "worker", id, "offset_ms", offset.Milliseconds())
	}
	return len(offsets)
}

// watchExits stops the run with StopTraceComplete once every worker has
// exited on its own. Exits caused by a stop leave the cause alone.
func (s *Scheduler) watchExits(ctx context.Context, exited *sync.WaitGroup) {
	allExited := make(chan struct{})
	go func() {
		exited.Wait()
		close(allExited)
	}()

	select {
	case <-allExited:
		cause := engine.StopTraceComplete
		if ctx.Err() != nil {
			cause = engine.StopSignal
		}
		if s.life.Stop(cause) {
			s.logger.Info("all workers exited", "cause", cause)
		}
	case <-s.life.Done():
	}
}

func (s *Scheduler) abort(id int, err error) {
	if s.life.Stop(engine.StopAborted) {
		s.logger.Error("worker failed, aborting run", "worker", id, "error", err)
	}
}
