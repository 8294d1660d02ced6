// Package control owns the live relay channel state and the operations that
// mutate it. A Surface is not safe for concurrent use: exactly one goroutine
// (the control loop) owns it, and every other caller goes through a Queue.
package control

import (
	"errors"
	"fmt"

	"github.com/sweeney/relay-controller/internal/button"
	"github.com/sweeney/relay-controller/internal/store"
)

// Driver drives a channel's relay output.
type Driver interface {
	Apply(ch int, energized bool) error
}

// Source identifies who requested a change.
type Source string

const (
	SourceButton Source = "button"
	SourceAPI    Source = "api"
)

// Change records a channel whose energized state actually changed.
type Change struct {
	Channel   int
	Energized bool
	Source    Source
}

// Status is a read-only snapshot of channel state and the restore flag.
type Status struct {
	Channels      []bool
	RestoreOnBoot bool
}

// Counts tracks control activity since startup.
type Counts struct {
	ButtonEvents int
	APIOps       int
	Commits      int
	CommitErrors int
}

// Surface holds channel state and applies mutations from buttons and the API.
//
// Persistence is asymmetric on purpose. API mutations commit the full image
// because they are deliberate configuration. Button presses are latched and
// ephemeral, so they never commit; committing on every press and release
// would burn flash write cycles for state that is gone on release anyway.
type Surface struct {
	channels []bool
	restore  bool

	// committed holds the channel bytes as last written to the store.
	committed []bool

	driver Driver
	store  store.Store

	changes []Change
	counts  Counts
}

// New creates a surface with n de-energized channels and restore disabled.
// It does not touch the outputs; see Boot.
func New(n int, driver Driver, st store.Store) *Surface {
	return &Surface{
		channels:  make([]bool, n),
		committed: make([]bool, n),
		driver:    driver,
		store:     st,
	}
}

// Boot loads the persisted image and seeds channel state before any button or
// API activity. With the restore flag clear every channel starts off,
// whatever bytes are stored. Every output is driven to match.
func Boot(n int, driver Driver, st store.Store) (*Surface, error) {
	s := New(n, driver, st)

	img, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	s.restore = img.RestoreOnBoot
	copy(s.committed, img.Channels)
	if s.restore {
		copy(s.channels, img.Channels)
	}

	for ch, on := range s.channels {
		if err := driver.Apply(ch, on); err != nil {
			return nil, fmt.Errorf("drive relay %d: %w", ch, err)
		}
	}
	return s, nil
}

// Len returns the number of channels.
func (s *Surface) Len() int {
	return len(s.channels)
}

// Valid reports whether ch is a channel index.
func (s *Surface) Valid(ch int) bool {
	return ch >= 0 && ch < len(s.channels)
}

// Toggle flips channel ch and commits. An out of range index is silently
// ignored: no state change and no store write.
func (s *Surface) Toggle(ch int) error {
	if !s.Valid(ch) {
		return nil
	}
	s.counts.APIOps++
	return s.Set(ch, !s.channels[ch], true, SourceAPI)
}

// AllOff de-energizes every channel and commits.
func (s *Surface) AllOff() error {
	s.counts.APIOps++

	var errs []error
	for ch := range s.channels {
		if err := s.set(ch, false, SourceAPI); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.commit())
	return errors.Join(errs...)
}

// FlipRestoreFlag flips the restore-on-boot preference and commits it.
// Channel bytes are rewritten as last committed, so a relay held on by a
// button is not persisted by the flip.
func (s *Surface) FlipRestoreFlag() error {
	s.counts.APIOps++
	s.restore = !s.restore
	return s.write(store.Image{RestoreOnBoot: s.restore, Channels: s.Committed()})
}

// Set drives channel ch to energized. persist selects whether the full
// image is committed afterwards. Out of range indices are ignored.
func (s *Surface) Set(ch int, energized, persist bool, src Source) error {
	if !s.Valid(ch) {
		return nil
	}
	err := s.set(ch, energized, src)
	if !persist {
		return err
	}
	return errors.Join(err, s.commit())
}

// HandleButton applies a debounced button event in latched mode: the relay is
// on while the button is held and off once released. Nothing is committed.
func (s *Surface) HandleButton(ev button.Event) error {
	if !s.Valid(ev.Channel) {
		return nil
	}
	s.counts.ButtonEvents++
	switch ev.Kind {
	case button.KindPressed:
		return s.Set(ev.Channel, true, false, SourceButton)
	case button.KindReleased:
		return s.Set(ev.Channel, false, false, SourceButton)
	}
	return fmt.Errorf("unknown button event %q", ev.Kind)
}

// Status returns a snapshot. It has no side effects.
func (s *Surface) Status() Status {
	ch := make([]bool, len(s.channels))
	copy(ch, s.channels)
	return Status{Channels: ch, RestoreOnBoot: s.restore}
}

// RestoreOnBoot returns the live restore flag.
func (s *Surface) RestoreOnBoot() bool {
	return s.restore
}

// Image returns the in-memory state in persisted form.
func (s *Surface) Image() store.Image {
	st := s.Status()
	return store.Image{RestoreOnBoot: st.RestoreOnBoot, Channels: st.Channels}
}

// Committed returns the channel states as last written to the store.
func (s *Surface) Committed() []bool {
	out := make([]bool, len(s.committed))
	copy(out, s.committed)
	return out
}

// Counts returns a copy of the activity counters.
func (s *Surface) Counts() Counts {
	return s.counts
}

// DrainChanges returns and clears the changes recorded since the last call.
func (s *Surface) DrainChanges() []Change {
	out := s.changes
	s.changes = nil
	return out
}

func (s *Surface) set(ch int, energized bool, src Source) error {
	if s.channels[ch] != energized {
		s.channels[ch] = energized
		s.changes = append(s.changes, Change{Channel: ch, Energized: energized, Source: src})
	}
	// Always drive, so the output matches even after an earlier failed write.
	if err := s.driver.Apply(ch, energized); err != nil {
		return fmt.Errorf("drive relay %d: %w", ch, err)
	}
	return nil
}

func (s *Surface) commit() error {
	return s.write(s.Image())
}

func (s *Surface) write(img store.Image) error {
	if err := s.store.Commit(img); err != nil {
		s.counts.CommitErrors++
		return fmt.Errorf("commit: %w", err)
	}
	copy(s.committed, img.Channels)
	s.counts.Commits++
	return nil
}
