// Package gpio provides the digital I/O primitives the stepper controller
// and safety supervisor drive pins through: configure, write, read, and a
// best-effort pulse helper, plus a deterministic test double.
package gpio

import (
	"fmt"
	"time"
)

// Direction is a pin's data direction.
type Direction uint8

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Pull selects a pin's internal bias resistor when configured as input.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Level is a digital pin level.
type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Pin is the minimal digital I/O contract C5 (stepper) and C7 (safety,
// e-stop input) drive. Pulse's timing guarantee is best-effort ≥ the
// requested durations; internal/stepper calls Pulse once per step from its
// own motion goroutine and paces the steps with its own sleeps.
type Pin interface {
	Configure(dir Direction, pull Pull) error
	Write(level Level) error
	Read() (Level, error)
	Pulse(high, low time.Duration) error
}

// Bank names pins by the logical role the config file assigns them
// (step_pin, dir_pin, enable_pin, limit_pin, estop_pin, ...) and opens the
// matching Pin from whichever backend the host supports.
type Bank interface {
	Pin(name string) (Pin, error)
}

// ErrUnknownPin is returned by a Bank when asked for a name it has no
// mapping for.
type ErrUnknownPin struct{ Name string }

func (e *ErrUnknownPin) Error() string {
	return fmt.Sprintf("gpio: unknown pin %q", e.Name)
}
