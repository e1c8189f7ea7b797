package command

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the type of a robot command.
type Kind int

const (
	KindUnknown Kind = iota
	KindVelocity
	KindPosition
	KindTakeoff
	KindLand
	KindHover
	KindEmergency
	KindSetHome
	KindGoToHome
)

// ErrUnknownKind is returned for command kinds outside the supported set.
var ErrUnknownKind = errors.New("unknown command kind")

var kindNames = map[Kind]string{
	KindVelocity:  "VELOCITY",
	KindPosition:  "POSITION",
	KindTakeoff:   "TAKEOFF",
	KindLand:      "LAND",
	KindHover:     "HOVER",
	KindEmergency: "EMERGENCY",
	KindSetHome:   "SET_HOME",
	KindGoToHome:  "GOTO_HOME",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind accepts names case-insensitively, with or without the
// underscore ("goto_home", "GoToHome", "go_to_home").
func ParseKind(s string) (Kind, error) {
	norm := strings.ToUpper(strings.ReplaceAll(s, "_", ""))
	for k, name := range kindNames {
		if strings.ReplaceAll(name, "_", "") == norm {
			return k, nil
		}
	}
	if norm == "GOTOHOME" || norm == "HOME" {
		return KindGoToHome, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
