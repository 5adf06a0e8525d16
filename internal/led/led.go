// Package led drives the four-LED bar that shows the counter value.
//
// The LEDs are wired active-low: a lit LED has its line driven low. Patterns
// are logical (bit set = LED on) everywhere except inside Bank.
package led

import (
	"fmt"
	"strings"

	"github.com/sweeney/led-counter/internal/gpio"
)

// Width is the number of LEDs in the bar.
const Width = 4

// Mask keeps the bits that fit on the bar.
const Mask = 1<<Width - 1

// PatternFor returns the logical pattern for a counter value.
func PatternFor(value uint32) uint8 {
	return uint8(value & Mask)
}

// Bank writes patterns to the LED lines. Bit i drives pins[i].
type Bank struct {
	pins [Width]gpio.Pin
}

// NewBank takes ownership of exactly Width pins, LED0 first.
func NewBank(pins ...gpio.Pin) (*Bank, error) {
	if len(pins) != Width {
		return nil, fmt.Errorf("led: need %d pins, got %d", Width, len(pins))
	}
	b := &Bank{}
	for i, p := range pins {
		if p == nil {
			return nil, fmt.Errorf("led: pin %d is nil", i)
		}
		b.pins[i] = p
	}
	return b, nil
}

// Write shows pattern on the bar, inverting each bit for active-low wiring.
func (b *Bank) Write(pattern uint8) {
	for i, p := range b.pins {
		on := pattern&(1<<i) != 0
		p.Set(!on)
	}
}

// Read returns the logical pattern currently driven on the lines.
func (b *Bank) Read() uint8 {
	var pattern uint8
	for i, p := range b.pins {
		if !p.Get() {
			pattern |= 1 << i
		}
	}
	return pattern
}

// Levels converts raw line levels (LED0 first) into a logical pattern.
func Levels(levels []bool) uint8 {
	var pattern uint8
	for i, high := range levels {
		if i >= Width {
			break
		}
		if !high {
			pattern |= 1 << i
		}
	}
	return pattern
}

// Render formats a pattern most significant LED first, e.g. 3 -> "0011".
func Render(pattern uint8) string {
	var sb strings.Builder
	for i := Width - 1; i >= 0; i-- {
		if pattern&(1<<i) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
