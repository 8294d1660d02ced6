package button

import "time"

// channel tracks debounce state for a single button.
type channel struct {
	state State
	// Time the current Debouncing* state was entered
	since time.Time
}

// Engine debounces a fixed set of button channels.
// It must be sampled on a regular cadence; it is not interrupt driven.
type Engine struct {
	window   time.Duration
	channels []channel
}

// NewEngine creates an engine for n channels with the given debounce window.
// Every channel starts Idle.
func NewEngine(n int, window time.Duration) *Engine {
	return &Engine{
		window:   window,
		channels: make([]channel, n),
	}
}

// Len returns the number of channels.
func (e *Engine) Len() int {
	return len(e.channels)
}

// Window returns the debounce window.
func (e *Engine) Window() time.Duration {
	return e.window
}

// State returns the current debounce state of channel ch.
// Out of range channels report Idle.
func (e *Engine) State(ch int) State {
	if ch < 0 || ch >= len(e.channels) {
		return Idle
	}
	return e.channels[ch].state
}

// Sample feeds one raw level for channel ch observed at now.
// It returns an event only when a transition has held for the full window.
// A bounce shorter than the window returns the channel to its previous
// stable state without emitting anything.
func (e *Engine) Sample(ch int, raw Level, now time.Time) (Event, bool) {
	if ch < 0 || ch >= len(e.channels) {
		return Event{}, false
	}
	c := &e.channels[ch]

	switch c.state {
	case Idle:
		if raw.Pressed() {
			c.state = DebouncingDown
			c.since = now
		}

	case DebouncingDown:
		if !raw.Pressed() {
			c.state = Idle
			return Event{}, false
		}
		if now.Sub(c.since) >= e.window {
			c.state = Pressed
			return Event{Channel: ch, Kind: KindPressed, Timestamp: now}, true
		}

	case Pressed:
		if !raw.Pressed() {
			c.state = DebouncingUp
			c.since = now
		}

	case DebouncingUp:
		if raw.Pressed() {
			c.state = Pressed
			return Event{}, false
		}
		if now.Sub(c.since) >= e.window {
			c.state = Idle
			return Event{Channel: ch, Kind: KindReleased, Timestamp: now}, true
		}
	}

	return Event{}, false
}

// Poll samples every channel in index order and returns the emitted events.
// Extra levels beyond Len are ignored; missing levels leave channels untouched.
func (e *Engine) Poll(levels []Level, now time.Time) []Event {
	var events []Event
	for ch, raw := range levels {
		if ch >= len(e.channels) {
			break
		}
		if ev, ok := e.Sample(ch, raw, now); ok {
			events = append(events, ev)
		}
	}
	return events
}
