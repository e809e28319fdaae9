package session

import (
	"fmt"
	"strings"
)

// State is a TransmissionSession lifecycle state
type State int

const (
	Idle State = iota
	Connecting
	Connected
	PendingConfirmation
	Transmitting
	Paused
	Stopping
	Stopped
	Completed
	Error
)

var stateNames = [...]string{
	Idle:                "idle",
	Connecting:          "connecting",
	Connected:           "connected",
	PendingConfirmation: "pending_confirmation",
	Transmitting:        "transmitting",
	Paused:              "paused",
	Stopping:            "stopping",
	Stopped:             "stopped",
	Completed:           "completed",
	Error:               "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states appear by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state: %q", b)
}

// Terminal reports whether no further transmission can happen in this state
func (s State) Terminal() bool {
	return s == Stopped || s == Completed || s == Error
}

// Active reports whether a transmission is underway
func (s State) Active() bool {
	return s == Transmitting || s == Paused || s == Stopping
}
