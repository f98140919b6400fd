package domain

import "fmt"

// State is the trial sequencer state.
type State int

const (
	StateIdle State = iota
	StateAwaitingStart
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateAwaitingStart, StateRunning, StateFinished} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}
