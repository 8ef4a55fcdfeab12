package engine

import (
	"fmt"
	"math"
	"time"
)

// NoSleep is the "do not sleep" sentinel. It is distinct from a zero sleep,
// which still yields.
const NoSleep time.Duration = -1

// Think-time model constants. Gaps follow an exponential distribution with
// a 7 s mean; draws below shortGapProbability take a sub-millisecond branch.
const (
	thinkTimeMeanMs     = 7000.0
	shortGapProbability = 4.54e-5
)

// SleepMode selects how long a worker pauses after each statement.
type SleepMode int

const (
	SleepDisabled SleepMode = iota
	SleepFixed
	SleepThinkTime
)

func (m SleepMode) String() string {
	switch m {
	case SleepDisabled:
		return "off"
	case SleepFixed:
		return "fixed"
	case SleepThinkTime:
		return "thinktime"
	}
	return fmt.Sprintf("sleepmode(%d)", int(m))
}

// SleepPolicy produces the per-statement pause.
type SleepPolicy struct {
	Mode  SleepMode
	Fixed time.Duration
}

// Duration returns the pause for one statement. r must be uniform in [0,1)
// and is consumed only in think-time mode.
func (p SleepPolicy) Duration(r float64) time.Duration {
	switch p.Mode {
	case SleepFixed:
		return p.Fixed
	case SleepThinkTime:
		return ThinkTime(r)
	}
	return NoSleep
}

// ThinkTime maps a uniform draw r in [0,1) to a simulated user think time.
//
//	r < 4.54e-5: (r + 0.5) ms
//	otherwise:   (-7000 * ln r + 0.5) ms
func ThinkTime(r float64) time.Duration {
	var ms float64
	if r < shortGapProbability {
		ms = r + 0.5
	} else {
		ms = -thinkTimeMeanMs*math.Log(r) + 0.5
	}
	return time.Duration(ms * float64(time.Millisecond))
}
