package gpio

import "fmt"

// FakeBank is a test double that returns scripted button levels and records
// every output write.
type FakeBank struct {
	// Samples contains scripted raw button levels, one slice per read.
	// Each call to ReadButtons consumes the next sample.
	Samples [][]bool

	// index tracks current position in Samples
	index int

	// Relays holds the current raw level of each relay line.
	Relays []bool

	// RelayWrites records every SetRelay call in order.
	RelayWrites []RelayWrite

	// Indicator holds the current indicator level.
	Indicator bool

	// IndicatorWrites counts SetIndicator calls.
	IndicatorWrites int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadButtons()
	ReadError error

	// WriteError, if set, will be returned by SetRelay and SetIndicator
	WriteError error
}

// RelayWrite is a single recorded relay output write.
type RelayWrite struct {
	Relay int
	High  bool
}

// NewFakeBank creates a FakeBank with n relay lines, all high (de-energized
// for active-low relay boards), and the given button samples.
func NewFakeBank(n int, samples [][]bool) *FakeBank {
	relays := make([]bool, n)
	for i := range relays {
		relays[i] = true
	}
	return &FakeBank{Samples: samples, Relays: relays}
}

// Released returns n raw levels with every button released (high).
func Released(n int) []bool {
	levels := make([]bool, n)
	for i := range levels {
		levels[i] = true
	}
	return levels
}

// ReadButtons returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
// With no samples configured every button reads released.
func (f *FakeBank) ReadButtons() ([]bool, error) {
	if f.ReadError != nil {
		return nil, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Released(len(f.Relays)), nil
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	out := make([]bool, len(sample))
	copy(out, sample)
	return out, nil
}

// SetRelay records the write.
func (f *FakeBank) SetRelay(i int, high bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	if i < 0 || i >= len(f.Relays) {
		return fmt.Errorf("relay %d: no such line", i)
	}
	f.Relays[i] = high
	f.RelayWrites = append(f.RelayWrites, RelayWrite{Relay: i, High: high})
	return nil
}

// SetIndicator records the indicator level.
func (f *FakeBank) SetIndicator(high bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Indicator = high
	f.IndicatorWrites++
	return nil
}

// Close marks the bank as closed.
func (f *FakeBank) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the samples and clears recorded writes.
func (f *FakeBank) Reset() {
	f.index = 0
	f.Closed = false
	f.RelayWrites = nil
	f.IndicatorWrites = 0
}
