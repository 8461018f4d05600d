package watchdog

import (
	"sync"
	"time"
)

// Defaults applied when a zero value is configured.
const (
	DefaultInactivityDelay = 9 * time.Second
	DefaultCountdownBudget = 30
	DefaultTick            = time.Second
)

// =============================================================================
// Inactivity Warning
// =============================================================================

// Inactivity is a single-shot, cancellable delayed warning.
// Every Arm or Cancel bumps a generation so that a callback already queued
// by the underlying timer is discarded.
type Inactivity struct {
	clock Clock
	delay time.Duration

	timer      Timer
	generation uint64
	armed      bool
	fired      bool
	mu         sync.Mutex
}

// NewInactivity creates an inactivity watchdog.
func NewInactivity(clock Clock, delay time.Duration) *Inactivity {
	if clock == nil {
		clock = RealClock{}
	}
	if delay <= 0 {
		delay = DefaultInactivityDelay
	}
	return &Inactivity{clock: clock, delay: delay}
}

// Arm (re)starts the watchdog. onFire runs at most once, outside the lock.
func (w *Inactivity) Arm(onFire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.generation++
	w.armed = true
	w.fired = false

	gen := w.generation
	w.timer = w.clock.AfterFunc(w.delay, func() {
		w.mu.Lock()
		if gen != w.generation || !w.armed {
			w.mu.Unlock()
			return
		}
		w.armed = false
		w.fired = true
		w.mu.Unlock()

		if onFire != nil {
			onFire()
		}
	})
}

// Cancel disarms the watchdog. Returns true if it was still pending.
func (w *Inactivity) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.armed
	w.stopLocked()
	w.generation++
	return pending
}

// Pending reports whether the warning is armed and has not fired.
func (w *Inactivity) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Fired reports whether the warning fired since the last Arm.
func (w *Inactivity) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Delay returns the configured delay.
func (w *Inactivity) Delay() time.Duration {
	return w.delay
}

func (w *Inactivity) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = false
}

// =============================================================================
// Completion Countdown
// =============================================================================

// Countdown ticks once per interval from a budget down to zero.
type Countdown struct {
	clock Clock
	tick  time.Duration

	timer      Timer
	generation uint64
	running    bool
	remaining  int
	mu         sync.Mutex
}

// NewCountdown creates a countdown with the given tick interval.
func NewCountdown(clock Clock, tick time.Duration) *Countdown {
	if clock == nil {
		clock = RealClock{}
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Countdown{clock: clock, tick: tick}
}

// Start (re)starts the countdown at budget (clamped to at least one tick).
// onTick receives each new remaining value; onExpire runs once when it
// reaches zero. Both run outside the lock.
func (c *Countdown) Start(budget int, onTick func(remaining int), onExpire func()) {
	if budget < 1 {
		budget = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.generation++
	c.running = true
	c.remaining = budget
	c.scheduleLocked(c.generation, onTick, onExpire)
}

// scheduleLocked arms the next tick (must hold lock).
func (c *Countdown) scheduleLocked(gen uint64, onTick func(int), onExpire func()) {
	c.timer = c.clock.AfterFunc(c.tick, func() {
		c.mu.Lock()
		if gen != c.generation || !c.running {
			c.mu.Unlock()
			return
		}
		c.remaining--
		remaining := c.remaining
		expired := remaining <= 0
		if expired {
			c.running = false
			c.timer = nil
		} else {
			c.scheduleLocked(gen, onTick, onExpire)
		}
		c.mu.Unlock()

		if onTick != nil {
			onTick(remaining)
		}
		if expired && onExpire != nil {
			onExpire()
		}
	})
}

// Stop cancels the countdown. Returns true if it was running.
func (c *Countdown) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	running := c.running
	c.stopLocked()
	c.generation++
	return running
}

// Reset stops the countdown and zeroes the remaining seconds.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.generation++
	c.remaining = 0
}

// Running reports whether the countdown is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Remaining returns the seconds (ticks) left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.running = false
}
