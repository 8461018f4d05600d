package liveness

import "fmt"

// =============================================================================
// Valid State Transitions
// =============================================================================

// validTransitions defines allowed state transitions.
var validTransitions = map[State]map[State]bool{
	StateIdle: {
		StateCreatingSession: true,
		StateTerminal:        true, // Torn down before start
	},
	StateCreatingSession: {
		StateAwaitingStart: true,
		StateTerminal:      true,
	},
	StateAwaitingStart: {
		StateChallengeActive: true,
		StatePolling:         true, // Widget finished without a detected interaction
		StateTerminal:        true,
	},
	StateChallengeActive: {
		StatePolling:  true,
		StateTerminal: true,
	},
	StatePolling: {
		StateTerminal: true,
	},
	StateTerminal: {}, // Absorbing
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to State) bool {
	if targets, ok := validTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// InvalidTransitionError is returned when a transition is not in the table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Transition validates and applies a state change to the session.
func (s *Session) Transition(to State) error {
	if !IsValidTransition(s.State, to) {
		return &InvalidTransitionError{From: s.State, To: to}
	}
	s.State = to
	return nil
}
