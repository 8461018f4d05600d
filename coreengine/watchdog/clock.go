// Package watchdog provides the two user-responsiveness timers of a session.
//
//   - Inactivity: single-shot advisory warning armed when the widget appears
//   - Countdown: one-second ticks from a budget down to zero after the first
//     interaction; reaching zero ends the session with AnalysisTimeout
//
// Both are scoped to one session, re-armed from zero state per session and
// never fire after they have been stopped.
package watchdog

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already
	// fired or was stopped.
	Stop() bool
}

// Clock schedules delayed callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock uses the runtime timers.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc waits for d and then calls f in its own goroutine.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

var _ Clock = RealClock{}
