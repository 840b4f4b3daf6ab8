package peripheral

import (
	"fmt"
	"strings"
)

// State mirrors the power state reported by the BLE stack
type State int

const (
	StateUnknown State = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

var stateNames = []string{
	"unknown",
	"resetting",
	"unsupported",
	"unauthorized",
	"poweredOff",
	"poweredOn",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Ready reports whether publication and advertising are accepted in this state.
func (s State) Ready() bool {
	return s == StatePoweredOn
}

// settled reports whether the stack has reached a definite answer about readiness.
// Requests issued in an unsettled state are queued instead of failed.
func (s State) settled() bool {
	return s != StateUnknown && s != StateResetting
}

// ParseState converts a state name (case-insensitive) back to a State
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(i), nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown peripheral state %q", name)
}

// MarshalText renders the state by name in JSON/YAML output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Phase is the derived activity sub-state of a powered-on peripheral
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePublishing
	PhaseAdvertising
)

func (p Phase) String() string {
	switch p {
	case PhasePublishing:
		return "publishing"
	case PhaseAdvertising:
		return "advertising"
	default:
		return "idle"
	}
}
