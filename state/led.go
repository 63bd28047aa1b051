package state

import (
	"errors"
	"fmt"
	"strings"
)

type LEDState uint

const (
	LEDOff LEDState = iota
	LEDOn
)

var ErrUnknownState = errors.New("unknown led state")

func (s LEDState) String() string {
	switch s {
	case LEDOff:
		return "OFF"
	case LEDOn:
		return "ON"
	default:
		return fmt.Sprintf("INVALID(%d)", uint(s))
	}
}

// ParseLEDState accepts the payloads switches commonly publish: on/off, 1/0, true/false.
func ParseLEDState(in string) (LEDState, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "on", "1", "true":
		return LEDOn, nil
	case "off", "0", "false":
		return LEDOff, nil
	}
	return LEDOff, fmt.Errorf("%w: %q", ErrUnknownState, in)
}

// LED holds the state of a single two-state light. The zero value is OFF.
// An LED does no locking of its own; callers sharing one must synchronize.
type LED struct {
	State LEDState
}

func (l *LED) Init() {
	l.State = LEDOff
}

// TurnOn reports whether an OFF -> ON transition happened. Turning on an LED
// that is already on is rejected and leaves the state alone.
func (l *LED) TurnOn() bool {
	if l.State == LEDOff {
		l.State = LEDOn
		return true
	}
	return false
}

// TurnOff reports whether an ON -> OFF transition happened.
func (l *LED) TurnOff() bool {
	if l.State == LEDOn {
		l.State = LEDOff
		return true
	}
	return false
}

func (l *LED) IsValid() bool {
	return l.State == LEDOff || l.State == LEDOn
}

func (l *LED) Status() LEDState {
	return l.State
}
