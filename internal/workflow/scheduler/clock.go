package scheduler

import "time"

type (
	// Clock provides the current time for wait deadlines
	Clock func() time.Time

	// Timer represents a resettable scheduler timer
	Timer interface {
		Channel() <-chan time.Time
		Reset(delay time.Duration) bool
		Stop() bool
	}

	// TimerConstructor builds a scheduler timer with the given delay
	TimerConstructor func(delay time.Duration) Timer

	systemTimer struct {
		*time.Timer
	}

	scaledTimer struct {
		Timer
		scale float64
	}
)

// NewTimer builds the default system-backed scheduler timer
func NewTimer(delay time.Duration) Timer {
	return &systemTimer{
		Timer: time.NewTimer(delay),
	}
}

// NewScaledTimer returns a constructor whose timers fire after delay/scale.
// Deadlines still read in wall-clock terms, so a three minute wait with a
// scale of 1000 resolves after 180ms
func NewScaledTimer(scale float64) TimerConstructor {
	if scale <= 0 {
		scale = 1
	}
	return func(delay time.Duration) Timer {
		return &scaledTimer{
			Timer: NewTimer(scaleDelay(delay, scale)),
			scale: scale,
		}
	}
}

func (t *systemTimer) Channel() <-chan time.Time {
	return t.C
}

func (t *scaledTimer) Reset(delay time.Duration) bool {
	return t.Timer.Reset(scaleDelay(delay, t.scale))
}

func scaleDelay(delay time.Duration, scale float64) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(float64(delay) / scale)
}
