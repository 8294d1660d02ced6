// Package button contains the per-channel button debounce engine.
// This package has NO external dependencies (no GPIO, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package button

import "time"

// Level is a raw digital input sample.
//
// Buttons are wired to ground with the line pulled up, so the polarity is
// inverted: Low means the button is physically pressed and High means it is
// released. Callers must pass the raw line level, not a logical "pressed".
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pressed reports whether the level corresponds to a pressed button.
func (l Level) Pressed() bool {
	return l == Low
}

// State is the debounce state of a single channel.
type State int

const (
	Idle State = iota
	DebouncingDown
	Pressed
	DebouncingUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case DebouncingDown:
		return "DEBOUNCING_DOWN"
	case Pressed:
		return "PRESSED"
	case DebouncingUp:
		return "DEBOUNCING_UP"
	}
	return "UNKNOWN"
}

// Kind is the type of a debounced button event.
type Kind string

const (
	KindPressed  Kind = "PRESSED"
	KindReleased Kind = "RELEASED"
)

// Event is a clean press or release accepted after the debounce window.
type Event struct {
	Channel   int
	Kind      Kind
	Timestamp time.Time
}

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 30 * time.Millisecond
