//go:build !linux

package gpio

import "errors"

// RealBank is not available on non-Linux platforms.
type RealBank struct{}

// NewRealBank returns an error on non-Linux platforms.
func NewRealBank(chipName string, relayPins, buttonPins []int, indicatorPin int, initial []bool) (*RealBank, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// ReadButtons is not implemented on non-Linux platforms.
func (b *RealBank) ReadButtons() ([]bool, error) {
	return nil, errors.New("gpio: not supported")
}

// SetRelay is not implemented on non-Linux platforms.
func (b *RealBank) SetRelay(i int, high bool) error {
	return errors.New("gpio: not supported")
}

// SetIndicator is not implemented on non-Linux platforms.
func (b *RealBank) SetIndicator(high bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealBank) Close() error {
	return nil
}
