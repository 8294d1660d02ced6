//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealBank drives actual hardware using Linux GPIO character device.
type RealBank struct {
	chip      *gpiocdev.Chip
	relays    []*gpiocdev.Line
	buttons   []*gpiocdev.Line
	indicator *gpiocdev.Line
}

// NewRealBank requests the relay, button and indicator lines on the named chip.
// initial holds the raw level each relay output starts at, so outputs never
// glitch between request and the first SetRelay.
// An indicatorPin below zero leaves the indicator unconnected.
func NewRealBank(chipName string, relayPins, buttonPins []int, indicatorPin int, initial []bool) (*RealBank, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &RealBank{chip: chip}

	for i, pin := range relayPins {
		v := 1
		if i < len(initial) && !initial[i] {
			v = 0
		}
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(v))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
		}
		b.relays = append(b.relays, line)
	}

	// Buttons short the line to ground, so bias it high.
	for _, pin := range buttonPins {
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request button pin %d: %w", pin, err)
		}
		b.buttons = append(b.buttons, line)
	}

	if indicatorPin >= 0 {
		line, err := chip.RequestLine(indicatorPin, gpiocdev.AsOutput(0))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request indicator pin %d: %w", indicatorPin, err)
		}
		b.indicator = line
	}

	return b, nil
}

// ReadButtons returns the raw level of every button line.
func (b *RealBank) ReadButtons() ([]bool, error) {
	levels := make([]bool, len(b.buttons))
	for i, line := range b.buttons {
		v, err := line.Value()
		if err != nil {
			return nil, fmt.Errorf("read button %d: %w", i, err)
		}
		levels[i] = v != 0
	}
	return levels, nil
}

// SetRelay drives relay line i.
func (b *RealBank) SetRelay(i int, high bool) error {
	if i < 0 || i >= len(b.relays) {
		return fmt.Errorf("relay %d: no such line", i)
	}
	if err := b.relays[i].SetValue(boolToValue(high)); err != nil {
		return fmt.Errorf("set relay %d: %w", i, err)
	}
	return nil
}

// SetIndicator drives the indicator line, if one is connected.
func (b *RealBank) SetIndicator(high bool) error {
	if b.indicator == nil {
		return nil
	}
	if err := b.indicator.SetValue(boolToValue(high)); err != nil {
		return fmt.Errorf("set indicator: %w", err)
	}
	return nil
}

// Close releases GPIO resources.
// Button lines are left as biased inputs; relay lines keep their last level
// until the kernel reclaims them.
func (b *RealBank) Close() error {
	var errs []error

	for i, line := range b.buttons {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button %d: %w", i, err))
		}
	}
	for i, line := range b.relays {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay %d: %w", i, err))
		}
	}
	if b.indicator != nil {
		if err := b.indicator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToValue(high bool) int {
	if high {
		return 1
	}
	return 0
}
