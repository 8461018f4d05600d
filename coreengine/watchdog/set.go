package watchdog

import (
	"sync"
	"time"
)

// State is the per-session watchdog snapshot.
type State struct {
	HasInteracted    bool `json:"has_interacted"`
	SecondsRemaining int  `json:"seconds_remaining"`
	CountdownRunning bool `json:"countdown_running"`
	WarningPending   bool `json:"warning_pending"`
	WarningFired     bool `json:"warning_fired"`
}

// Hooks receive watchdog signals. Any field may be nil.
type Hooks struct {
	OnInactivityWarning func()
	OnTick              func(remaining int)
	OnCountdownExpired  func()
}

// Set owns both watchdogs of one session.
type Set struct {
	inactivity *Inactivity
	countdown  *Countdown
	budget     int
	hooks      Hooks

	hasInteracted bool
	mu            sync.Mutex
}

// NewSet creates the watchdogs for a session.
func NewSet(clock Clock, inactivityDelay time.Duration, budget int, tick time.Duration, hooks Hooks) *Set {
	if budget <= 0 {
		budget = DefaultCountdownBudget
	}
	return &Set{
		inactivity: NewInactivity(clock, inactivityDelay),
		countdown:  NewCountdown(clock, tick),
		budget:     budget,
		hooks:      hooks,
	}
}

// Reset clears state from a previous session and arms the inactivity
// warning. Called when the widget becomes visible.
func (s *Set) Reset() {
	s.mu.Lock()
	s.hasInteracted = false
	s.mu.Unlock()

	s.countdown.Reset()
	s.inactivity.Arm(func() {
		s.mu.Lock()
		interacted := s.hasInteracted
		s.mu.Unlock()
		if !interacted && s.hooks.OnInactivityWarning != nil {
			s.hooks.OnInactivityWarning()
		}
	})
}

// MarkInteracted records the first interaction, cancels the warning and
// starts the countdown. Returns false for every later interaction.
func (s *Set) MarkInteracted() bool {
	s.mu.Lock()
	if s.hasInteracted {
		s.mu.Unlock()
		return false
	}
	s.hasInteracted = true
	s.mu.Unlock()

	s.inactivity.Cancel()
	s.countdown.Start(s.budget, s.hooks.OnTick, s.hooks.OnCountdownExpired)
	return true
}

// Stop cancels both watchdogs.
func (s *Set) Stop() {
	s.inactivity.Cancel()
	s.countdown.Stop()
}

// Budget returns the configured countdown budget.
func (s *Set) Budget() int {
	return s.budget
}

// Snapshot returns the current watchdog state.
func (s *Set) Snapshot() State {
	s.mu.Lock()
	interacted := s.hasInteracted
	s.mu.Unlock()

	return State{
		HasInteracted:    interacted,
		SecondsRemaining: s.countdown.Remaining(),
		CountdownRunning: s.countdown.Running(),
		WarningPending:   s.inactivity.Pending(),
		WarningFired:     s.inactivity.Fired(),
	}
}
