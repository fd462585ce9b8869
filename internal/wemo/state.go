package wemo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// State is the BinaryState code reported by a switch. Codes 0, 1 and 8
// are known; every other code in [0, 65535] is an unknown state that is
// still carried verbatim.
type State uint16

const (
	StateOff           State = 0
	StateOn            State = 1
	StateOnWithoutLoad State = 8
)

// StateFromCode maps a wire code to a State. Codes outside [0, 65535]
// are rejected.
func StateFromCode(code int64) (State, error) {
	if code < 0 || code > math.MaxUint16 {
		return 0, NewParseError("BinaryState", fmt.Sprintf("state code %d out of range", code), nil)
	}
	return State(code), nil
}

// ParseState parses the text of a <BinaryState> element. Devices that
// report telemetry append pipe-delimited fields; only the leading field
// carries the state.
func ParseState(text string) (State, error) {
	field, _, _ := strings.Cut(strings.TrimSpace(text), "|")
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, NewParseError("BinaryState", "empty state value", nil)
	}
	code, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, NewParseError("BinaryState", fmt.Sprintf("invalid state value %q", field), err)
	}
	return StateFromCode(code)
}

// IsOn reports whether the switch relay is closed.
func (s State) IsOn() bool {
	return s == StateOn || s == StateOnWithoutLoad
}

// IsKnown reports whether s is one of Off, On or OnWithoutLoad.
func (s State) IsKnown() bool {
	switch s {
	case StateOff, StateOn, StateOnWithoutLoad:
		return true
	}
	return false
}

// Code returns the wire code.
func (s State) Code() uint16 {
	return uint16(s)
}

// String returns a short machine-friendly name
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	case StateOnWithoutLoad:
		return "on_without_load"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(s))
	}
}

// Description returns a human-readable description of the state.
func (s State) Description() string {
	switch s {
	case StateOff:
		return "Switch is off"
	case StateOn:
		return "Switch is on"
	case StateOnWithoutLoad:
		return "Switch is on, but no load is drawing power"
	default:
		return fmt.Sprintf("Switch is in an unknown state (%d)", uint16(s))
	}
}
