// Package store persists the restore flag and relay states across power cycles.
//
// The persisted image is a fixed byte layout:
//
//	byte 0       restore flag (0/1)
//	bytes 1..N   channel energized flags (0/1)
//
// There is no version tag and no checksum. Any non-zero byte decodes as true.
//
// Commit issues a single positioned write followed by fsync. It does not guard
// against torn writes: a power loss mid-commit may leave a mix of old and new
// bytes. Every byte still decodes to a valid bool, and the worst case is a
// relay state the user did not commit, which they can correct from the API.
package store

import "fmt"

// Size is the size of the backing image, the same as the 64-byte EEPROM it replaces.
const Size = 64

// MaxChannels is the number of channel bytes that fit after the flag byte.
const MaxChannels = Size - 1

// Image is the persisted snapshot of the restore flag and channel states.
type Image struct {
	RestoreOnBoot bool
	Channels      []bool
}

// Store reads and writes the persisted image.
type Store interface {
	// Load returns the last committed image.
	Load() (Image, error)

	// Commit durably writes the whole image.
	Commit(img Image) error
}

// Encode returns the byte layout of img.
func (img Image) Encode() []byte {
	b := make([]byte, 1+len(img.Channels))
	b[0] = boolToByte(img.RestoreOnBoot)
	for i, on := range img.Channels {
		b[1+i] = boolToByte(on)
	}
	return b
}

// Decode parses an image with n channels from b.
// Missing trailing bytes decode as false.
func Decode(b []byte, n int) Image {
	img := Image{Channels: make([]bool, n)}
	if len(b) > 0 {
		img.RestoreOnBoot = b[0] != 0
	}
	for i := 0; i < n; i++ {
		if 1+i < len(b) {
			img.Channels[i] = b[1+i] != 0
		}
	}
	return img
}

// Equal reports whether two images hold the same flag and channel states.
func (img Image) Equal(other Image) bool {
	if img.RestoreOnBoot != other.RestoreOnBoot || len(img.Channels) != len(other.Channels) {
		return false
	}
	for i := range img.Channels {
		if img.Channels[i] != other.Channels[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of img.
func (img Image) Clone() Image {
	ch := make([]bool, len(img.Channels))
	copy(ch, img.Channels)
	return Image{RestoreOnBoot: img.RestoreOnBoot, Channels: ch}
}

func (img Image) String() string {
	return fmt.Sprintf("restore=%v channels=%v", img.RestoreOnBoot, img.Channels)
}

func checkChannels(n int) error {
	if n < 1 || n > MaxChannels {
		return fmt.Errorf("channel count %d out of range [1,%d]", n, MaxChannels)
	}
	return nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
