package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File stores the image in a fixed-size file, the way an EEPROM page would be.
type File struct {
	path string
	f    *os.File
	n    int
}

// OpenFile opens (creating if needed) the image file for n channels.
// A new or short file is zero-extended to Size bytes once, so a fresh store
// loads as restore=false with every channel off.
func OpenFile(path string, n int) (*File, error) {
	if err := checkChannels(n); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat store: %w", err)
	}
	if info.Size() < Size {
		if err := f.Truncate(Size); err != nil {
			f.Close()
			return nil, fmt.Errorf("size store: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync store: %w", err)
		}
	}

	return &File{path: path, f: f, n: n}, nil
}

// Path returns the backing file path.
func (s *File) Path() string {
	return s.path
}

// Load reads the image from the start of the file.
func (s *File) Load() (Image, error) {
	buf := make([]byte, 1+s.n)
	if _, err := s.f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return Image{}, fmt.Errorf("read store: %w", err)
	}
	return Decode(buf, s.n), nil
}

// Commit writes the whole image in one positioned write and syncs it.
func (s *File) Commit(img Image) error {
	if len(img.Channels) != s.n {
		return fmt.Errorf("commit: image has %d channels, store has %d", len(img.Channels), s.n)
	}
	if _, err := s.f.WriteAt(img.Encode(), 0); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync store: %w", err)
	}
	return nil
}

// Close closes the backing file.
func (s *File) Close() error {
	return s.f.Close()
}
