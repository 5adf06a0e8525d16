// Package gpio provides the pin abstraction used by the LED driver and the button.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Pin is a single digital line. Set drives the raw electrical level
// (true = high) and Get reads it back. Polarity is the caller's business.
type Pin interface {
	Set(high bool)
	Get() bool
}

// Button is an edge-triggered input with a latched pending flag, the way a
// microcontroller external interrupt line behaves.
type Button interface {
	// SetIRQ installs the function called on every falling edge. It runs on
	// the event delivery goroutine and must not block.
	SetIRQ(handler func())

	// ClearPending acknowledges the latched edge and reports whether one was set.
	ClearPending() bool

	// Get returns the raw line level.
	Get() bool
}

// Default line offsets on gpiochip0 (BCM numbering).
const (
	DefaultChip      = "gpiochip0"
	DefaultButtonPin = 17
)

// DefaultLEDPins drive LED0..LED3.
var DefaultLEDPins = []int{5, 6, 13, 19}

// BoardConfig selects the lines used by the device.
type BoardConfig struct {
	Chip      string
	ButtonPin int
	LEDPins   []int
	Debounce  time.Duration
}

// Board holds the peripherals handed out at bring-up.
type Board struct {
	Button Button
	LEDs   []Pin

	closers []io.Closer
}

// Close releases every line, then the chip.
func (b *Board) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close board: %w", errors.Join(errs...))
	}
	return nil
}
