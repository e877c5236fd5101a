package tracking

import "time"

// CancelFunc stops a scheduled callback. It reports whether the callback was
// prevented from running.
type CancelFunc func() bool

// Scheduler runs fn once after delay. Pollers and estimators only ever wait
// through a Scheduler so tests can drive time by hand.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) CancelFunc
}

// TimerScheduler schedules callbacks on real timers.
type TimerScheduler struct{}

// Schedule implements Scheduler using time.AfterFunc.
func (TimerScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	return time.AfterFunc(delay, fn).Stop
}
