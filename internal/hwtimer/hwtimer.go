// Package hwtimer models a 16-bit count-down timer peripheral: a prescaled
// counter clock, an overflow flag latched on expiry, and an interrupt line.
package hwtimer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Counter clock after the prescaler.
const (
	TickRate   = 10_000 // Hz
	Resolution = time.Second / TickRate
	MaxTicks   = 1<<16 - 1
	MaxPeriod  = MaxTicks * Resolution
)

var (
	ErrInvalidPeriod = errors.New("hwtimer: invalid period")
	ErrClosed        = errors.New("hwtimer: closed")
)

// Flags are the status bits of the timer.
type Flags uint8

const (
	FlagOverflow Flags = 1 << iota
)

// Timer is the shared timer peripheral.
type Timer interface {
	// Start loads the counter for d and starts it. A running count is reloaded.
	Start(d time.Duration) error

	// ClearFlags clears every status flag and returns the ones that were set.
	ClearFlags() Flags

	// SetIRQ installs the function called when the counter expires.
	SetIRQ(handler func())
}

// Validate checks that d can be programmed exactly: positive, a whole number
// of counter ticks, and within the 16-bit range.
func Validate(d time.Duration) error {
	if d <= 0 || d%Resolution != 0 || d > MaxPeriod {
		return fmt.Errorf("%w: %v (resolution %v, max %v)", ErrInvalidPeriod, d, Resolution, MaxPeriod)
	}
	return nil
}

// Countdown is a Timer backed by the Go runtime timer.
type Countdown struct {
	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	flags  Flags
	irq    func()
	armed  bool
	closed bool
}

// NewCountdown returns a stopped Countdown.
func NewCountdown() *Countdown {
	return &Countdown{}
}

// Start implements Timer.
func (c *Countdown) Start(d time.Duration) error {
	if err := Validate(d); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.armed = true
	c.timer = time.AfterFunc(d, func() { c.expire(gen) })
	return nil
}

func (c *Countdown) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		// reloaded or closed since this count was started
		c.mu.Unlock()
		return
	}
	c.armed = false
	c.flags |= FlagOverflow
	irq := c.irq
	c.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// ClearFlags implements Timer.
func (c *Countdown) ClearFlags() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.flags
	c.flags = 0
	return f
}

// SetIRQ implements Timer.
func (c *Countdown) SetIRQ(handler func()) {
	c.mu.Lock()
	c.irq = handler
	c.mu.Unlock()
}

// Armed reports whether a count is in progress.
func (c *Countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Close stops the counter. Further Starts fail with ErrClosed.
func (c *Countdown) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.closed = true
	c.armed = false
	return nil
}
