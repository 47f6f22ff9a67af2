package models

import "fmt"

var validTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusCreating: {SessionStatusActive},
	SessionStatusActive:   {SessionStatusExpired},
	SessionStatusExpired:  {},
}

// ValidateTransition returns an error unless from -> to is a lifecycle edge.
func ValidateTransition(from, to SessionStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown session status %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", from, to)
}

// IsMutable reports whether uploads and finalize are still accepted.
func (s SessionStatus) IsMutable() bool {
	return s == SessionStatusCreating
}

// IsTerminal reports whether no further transition exists.
func (s SessionStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}
