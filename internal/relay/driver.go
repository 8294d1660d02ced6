// Package relay maps logical channel state onto relay output lines.
package relay

import "fmt"

// Outputs is the subset of the GPIO bank the driver writes to.
type Outputs interface {
	SetRelay(i int, high bool) error
	SetIndicator(high bool) error
}

// Driver keeps relay outputs consistent with channel state.
//
// Relay boards are active-low: pulling the control line low energizes the
// coil. Apply inverts accordingly so callers only deal in "energized".
type Driver struct {
	out Outputs
	n   int

	indicator      bool
	indicatorKnown bool
}

// NewDriver creates a driver for n relay channels.
func NewDriver(out Outputs, n int) *Driver {
	return &Driver{out: out, n: n}
}

// LineLevel returns the raw output level for a logical relay state.
func LineLevel(energized bool) (high bool) {
	return !energized
}

// Apply drives channel ch to the level for energized.
func (d *Driver) Apply(ch int, energized bool) error {
	if ch < 0 || ch >= d.n {
		return fmt.Errorf("relay %d: out of range [0,%d)", ch, d.n)
	}
	return d.out.SetRelay(ch, LineLevel(energized))
}

// ApplyAll drives every channel from states, in index order.
// All channels are attempted; the first error is returned.
func (d *Driver) ApplyAll(states []bool) error {
	var first error
	for ch, on := range states {
		if err := d.Apply(ch, on); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Indicator drives the restore-flag indicator (active-high).
// The line is only written when the value changes.
func (d *Driver) Indicator(on bool) error {
	if d.indicatorKnown && d.indicator == on {
		return nil
	}
	return d.Sync(on)
}

// Sync writes the indicator unconditionally.
func (d *Driver) Sync(on bool) error {
	if err := d.out.SetIndicator(on); err != nil {
		d.indicatorKnown = false
		return err
	}
	d.indicator = on
	d.indicatorKnown = true
	return nil
}
