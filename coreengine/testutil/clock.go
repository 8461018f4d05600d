// Package testutil provides fakes and mocks for testing the liveness flow
// without a browser, a backend or real time.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/watchdog"
)

// =============================================================================
// FAKE CLOCK
// =============================================================================

// FakeClock is a manually advanced watchdog.Clock. Timer callbacks run
// synchronously inside Advance, in due-time order, without the clock lock
// held, so they may schedule further timers.
type FakeClock struct {
	now    time.Time
	timers []*fakeTimer
	seq    uint64
	mu     sync.Mutex
}

type fakeTimer struct {
	clock   *FakeClock
	at      time.Time
	seq     uint64
	fn      func()
	done    bool
	stopped bool
}

// NewFakeClock creates a clock reading start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) watchdog.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.done = true
		fn := next.fn
		c.mu.Unlock()

		fn()
	}
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.done && !t.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done && !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}

// Stop cancels the timer. Returns false if it already fired or was stopped.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

var _ watchdog.Clock = (*FakeClock)(nil)
