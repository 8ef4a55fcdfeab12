package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// StopCause records why a run stopped. The first cause wins.
type StopCause int32

const (
	StopNone StopCause = iota
	// StopSignal: the operator interrupted the run.
	StopSignal
	// StopDeadline: rampup, run and rampdown all elapsed.
	StopDeadline
	// StopTraceComplete: every worker ran off the end of the trace without
	// repeat.
	StopTraceComplete
	// StopAborted: a worker hit a fatal execution error.
	StopAborted
)

func (c StopCause) String() string {
	switch c {
	case StopNone:
		return "none"
	case StopSignal:
		return "signal"
	case StopDeadline:
		return "deadline"
	case StopTraceComplete:
		return "trace_complete"
	case StopAborted:
		return "aborted"
	}
	return "unknown"
}

// Lifecycle is the run-wide state shared by the scheduler and all workers:
// the measurement window and the stop token.
//
// Both flags are monotonic. The window goes from closed to open once; stop
// goes from not-requested to requested once.
//
// Thread-safety: all methods are safe for concurrent use.
type Lifecycle struct {
	windowOpen atomic.Bool
	openedAt   atomic.Int64 // unix nanos

	cause    atomic.Int32
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewLifecycle creates a lifecycle with the window closed and no stop
// requested.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{stopped: make(chan struct{})}
}

// OpenWindow opens the measurement window at t. Later calls are no-ops.
func (l *Lifecycle) OpenWindow(t time.Time) {
	if l.windowOpen.Load() {
		return
	}
	l.openedAt.Store(t.UnixNano())
	l.windowOpen.Store(true)
}

// WindowOpen reports whether the measurement window has opened.
func (l *Lifecycle) WindowOpen() bool {
	return l.windowOpen.Load()
}

// Admits reports whether a statement that started at start belongs in the
// results: the window is open, start is not before the window opened, and no
// stop has been requested.
func (l *Lifecycle) Admits(start time.Time) bool {
	if !l.windowOpen.Load() || l.StopRequested() {
		return false
	}
	return start.UnixNano() >= l.openedAt.Load()
}

// Stop requests that all workers finish. Only the first call's cause is kept.
// Returns true if this call was the one that stopped the run.
func (l *Lifecycle) Stop(cause StopCause) bool {
	first := false
	l.stopOnce.Do(func() {
		l.cause.Store(int32(cause))
		close(l.stopped)
		first = true
	})
	return first
}

// StopRequested reports whether Stop has been called.
func (l *Lifecycle) StopRequested() bool {
	select {
	case <-l.stopped:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when stop is requested.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.stopped
}

// Cause returns the stop cause, or StopNone if the run is still going.
func (l *Lifecycle) Cause() StopCause {
	return StopCause(l.cause.Load())
}

// Sleep pauses for d or until stop is requested, whichever comes first.
// Returns false if it was cut short by stop.
func (l *Lifecycle) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !l.StopRequested()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.stopped:
		return false
	}
}
