package broker

import "fmt"

type State string

const (
	StateLoggedOut    State = "logged_out"
	StateLoggingIn    State = "logging_in"
	StateLoggedIn     State = "logged_in"
	StateStarted      State = "started"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

var transitions = map[State][]State{
	StateLoggedOut:    {StateLoggingIn},
	StateLoggingIn:    {StateLoggedIn, StateLoggedOut},
	StateLoggedIn:     {StateStarted, StateLoggingIn},
	StateStarted:      {StateDisconnected, StateReconnecting},
	StateDisconnected: {StateReconnecting},
	StateReconnecting: {StateStarted, StateDisconnected},
	StateStopped:      {StateLoggingIn},
}

// CanTransition allows any state to move to Stopped and to itself.
func (s State) CanTransition(to State) bool {
	if to == StateStopped || to == s {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

func (s State) validate(to State) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, s, to)
	}

	return nil
}
