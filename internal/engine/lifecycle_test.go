package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle_WindowGating(t *testing.T) {
	l := NewLifecycle()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, l.WindowOpen())
	assert.False(t, l.Admits(t0.Add(time.Hour)), "closed window admits nothing")

	l.OpenWindow(t0)
	assert.True(t, l.WindowOpen())
	assert.False(t, l.Admits(t0.Add(-time.Nanosecond)), "records started before the window opened are dropped")
	assert.True(t, l.Admits(t0))
	assert.True(t, l.Admits(t0.Add(time.Second)))

	// Reopening does not move the boundary.
	l.OpenWindow(t0.Add(time.Minute))
	assert.True(t, l.Admits(t0.Add(time.Second)))

	l.Stop(StopDeadline)
	assert.False(t, l.Admits(t0.Add(time.Second)), "nothing is admitted after stop")
}

func TestLifecycle_FirstStopCauseWins(t *testing.T) {
	l := NewLifecycle()
	assert.Equal(t, StopNone, l.Cause())
	assert.False(t, l.StopRequested())

	assert.True(t, l.Stop(StopSignal))
	assert.False(t, l.Stop(StopDeadline))
	assert.False(t, l.Stop(StopTraceComplete))

	assert.True(t, l.StopRequested())
	assert.Equal(t, StopSignal, l.Cause())

	select {
	case <-l.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestLifecycle_ConcurrentStop(t *testing.T) {
	l := NewLifecycle()
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cause := StopSignal
			if i%2 == 0 {
				cause = StopTraceComplete
			}
			if l.Stop(cause) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)
	assert.Contains(t, []StopCause{StopSignal, StopTraceComplete}, l.Cause())
}

func TestLifecycle_SleepInterruptedByStop(t *testing.T) {
	l := NewLifecycle()
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Stop(StopSignal)
	}()

	start := time.Now()
	completed := l.Sleep(time.Minute)
	assert.False(t, completed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLifecycle_SleepCompletes(t *testing.T) {
	l := NewLifecycle()
	assert.True(t, l.Sleep(time.Millisecond))
	assert.True(t, l.Sleep(0))

	l.Stop(StopSignal)
	assert.False(t, l.Sleep(0))
}

func TestStopCause_String(t *testing.T) {
	assert.Equal(t, "signal", StopSignal.String())
	assert.Equal(t, "deadline", StopDeadline.String())
	assert.Equal(t, "trace_complete", StopTraceComplete.String())
	assert.Equal(t, "aborted", StopAborted.String())
	assert.Equal(t, "none", StopNone.String())
}
