package rigidbody

import (
	"fmt"
	"strings"
)

// State is the supervisory flight state of a rigid body.
type State int

const (
	Landed State = iota
	TakingOff
	Hover
	Moving
	Landing
	Emergency
)

// Idle is the state a robot falls back to when a command runs out. It is
// the same state as Hover.
const Idle = Hover

var stateNames = [...]string{
	Landed:    "LANDED",
	TakingOff: "TAKING_OFF",
	Hover:     "HOVER",
	Moving:    "MOVING",
	Landing:   "LANDING",
	Emergency: "EMERGENCY",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Airborne reports whether the robot may accept motion targets.
func (s State) Airborne() bool {
	switch s {
	case TakingOff, Hover, Moving, Landing:
		return true
	}
	return false
}

// ParseState accepts state names case-insensitively. "IDLE" maps to Hover.
func ParseState(name string) (State, error) {
	up := strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
	if up == "IDLE" {
		return Idle, nil
	}
	for i, n := range stateNames {
		if n == up {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
