package store

import "fmt"

// Mem is a volatile Store. It backs the daemon when no store path is
// configured and doubles as a test fake.
type Mem struct {
	data []byte
	n    int

	// Commits counts successful Commit calls.
	Commits int

	// CommitError, if set, will be returned by Commit.
	CommitError error

	// LoadError, if set, will be returned by Load.
	LoadError error
}

// NewMem creates an all-zero in-memory store for n channels.
func NewMem(n int) *Mem {
	return &Mem{data: make([]byte, Size), n: n}
}

// NewMemFrom creates an in-memory store pre-loaded with raw image bytes.
// It does not count as a commit.
func NewMemFrom(n int, raw []byte) *Mem {
	m := NewMem(n)
	copy(m.data, raw)
	return m
}

// Load returns the last committed image.
func (m *Mem) Load() (Image, error) {
	if m.LoadError != nil {
		return Image{}, m.LoadError
	}
	return Decode(m.data, m.n), nil
}

// Commit stores img.
func (m *Mem) Commit(img Image) error {
	if m.CommitError != nil {
		return m.CommitError
	}
	if len(img.Channels) != m.n {
		return fmt.Errorf("commit: image has %d channels, store has %d", len(img.Channels), m.n)
	}
	copy(m.data, img.Encode())
	m.Commits++
	return nil
}

// Bytes returns a copy of the raw image bytes.
func (m *Mem) Bytes() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
