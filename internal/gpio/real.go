//go:build linux

package gpio

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

// LinePin drives an output line on the GPIO character device.
type LinePin struct {
	line   *gpiocdev.Line
	offset int
}

// Set drives the line. Errors are logged, not returned.
func (p *LinePin) Set(high bool) {
	v := 0
	if high {
		v = 1
	}
	if err := p.line.SetValue(v); err != nil {
		log.Printf("gpio: set line %d: %v", p.offset, err)
	}
}

// Get reads the line back.
func (p *LinePin) Get() bool {
	v, err := p.line.Value()
	if err != nil {
		log.Printf("gpio: read line %d: %v", p.offset, err)
		return false
	}
	return v == 1
}

// Close drives the line high (LED off on active-low wiring) and releases it.
func (p *LinePin) Close() error {
	p.Set(true)
	if err := p.line.Close(); err != nil {
		return fmt.Errorf("close line %d: %w", p.offset, err)
	}
	return nil
}

// LineButton is a falling-edge input. Edge events are delivered by gpiocdev
// on its own goroutine, which is where the installed handler runs.
type LineButton struct {
	line    *gpiocdev.Line
	offset  int
	pending atomic.Bool
	handler atomic.Pointer[func()]
}

// SetIRQ installs the edge handler.
func (b *LineButton) SetIRQ(handler func()) {
	b.handler.Store(&handler)
}

// ClearPending acknowledges the latched edge.
func (b *LineButton) ClearPending() bool {
	return b.pending.Swap(false)
}

// Get reads the raw line level.
func (b *LineButton) Get() bool {
	v, err := b.line.Value()
	if err != nil {
		log.Printf("gpio: read line %d: %v", b.offset, err)
		return false
	}
	return v == 1
}

func (b *LineButton) onEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	b.pending.Store(true)
	if h := b.handler.Load(); h != nil && *h != nil {
		(*h)()
	}
}

// Close releases the line.
func (b *LineButton) Close() error {
	if err := b.line.Close(); err != nil {
		return fmt.Errorf("close line %d: %w", b.offset, err)
	}
	return nil
}

// OpenBoard requests the button and LED lines. The button is an input with
// pull-up, falling-edge detection and optional kernel debounce. LED lines are
// outputs initialised high, which is off for active-low wiring.
func OpenBoard(cfg BoardConfig) (*Board, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	b := &Board{closers: []io.Closer{chip}}

	btn := &LineButton{offset: cfg.ButtonPin}
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(btn.onEvent),
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
	}
	line, err := chip.RequestLine(cfg.ButtonPin, opts...)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request button pin %d: %w", cfg.ButtonPin, err)
	}
	btn.line = line
	b.Button = btn
	b.closers = append(b.closers, btn)

	for i, offset := range cfg.LEDPins {
		l, err := chip.RequestLine(offset, gpiocdev.AsOutput(1))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request LED%d pin %d: %w", i, offset, err)
		}
		pin := &LinePin{line: l, offset: offset}
		b.LEDs = append(b.LEDs, pin)
		b.closers = append(b.closers, pin)
	}

	return b, nil
}

// ReadLevels samples lines without changing their direction.
func ReadLevels(chipName string, offsets []int) ([]bool, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	defer chip.Close()

	lines, err := chip.RequestLines(offsets, gpiocdev.AsIs)
	if err != nil {
		return nil, fmt.Errorf("request lines %v: %w", offsets, err)
	}
	defer lines.Close()

	vals := make([]int, len(offsets))
	if err := lines.Values(vals); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	levels := make([]bool, len(vals))
	for i, v := range vals {
		levels[i] = v == 1
	}
	return levels, nil
}
