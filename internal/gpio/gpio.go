// Package gpio provides relay, button and indicator line access with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Bank is the set of GPIO lines owned by the controller.
// All values are raw line levels (true = high); polarity is the caller's concern.
type Bank interface {
	// ReadButtons returns the raw level of every button input, in channel order.
	ReadButtons() ([]bool, error)

	// SetRelay drives relay output line i to the given raw level.
	SetRelay(i int, high bool) error

	// SetIndicator drives the restore-flag indicator line.
	SetIndicator(high bool) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Default pin assignments (BCM numbering).
var (
	DefaultRelayPins  = []int{5, 6, 13, 19}
	DefaultButtonPins = []int{17, 27, 22, 23}
)

// DefaultIndicatorPin drives the restore-flag LED. Negative disables it.
const DefaultIndicatorPin = 24
