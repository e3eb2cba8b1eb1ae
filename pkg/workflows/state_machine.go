package workflows

import "fmt"

// StateMachine enforces status transitions from a fixed table.
type StateMachine[S ~string] struct {
	name               string
	allowedTransitions map[S][]S
}

// NewStateMachine creates a state machine with the given allowed transitions.
// States with an empty list are terminal.
func NewStateMachine[S ~string](name string, transitions map[S][]S) *StateMachine[S] {
	return &StateMachine[S]{
		name:               name,
		allowedTransitions: transitions,
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// Transition returns to if the move is allowed and an error otherwise.
func (sm *StateMachine[S]) Transition(from, to S) (S, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("%s: invalid transition %s -> %s", sm.name, from, to)
	}
	return to, nil
}

// IsTerminal reports whether no transition leaves the state.
func (sm *StateMachine[S]) IsTerminal(state S) bool {
	return len(sm.allowedTransitions[state]) == 0
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine[S]) GetAllowedTransitions(from S) []S {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []S{}
	}
	out := make([]S, len(allowed))
	copy(out, allowed)
	return out
}
