package hwtimer

import (
	"sync"
	"time"
)

// Fake is a Timer that only expires when told to.
type Fake struct {
	mu     sync.Mutex
	irq    func()
	flags  Flags
	armed  bool
	starts []time.Duration

	// StartError, if set, is returned by Start.
	StartError error
}

// NewFake returns a stopped Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Start records d and arms the fake.
func (f *Fake) Start(d time.Duration) error {
	if err := Validate(d); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartError != nil {
		return f.StartError
	}
	f.starts = append(f.starts, d)
	f.armed = true
	return nil
}

// Expire latches the overflow flag and fires the interrupt handler, whether
// or not the fake was armed.
func (f *Fake) Expire() {
	f.mu.Lock()
	f.armed = false
	f.flags |= FlagOverflow
	irq := f.irq
	f.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// ClearFlags implements Timer.
func (f *Fake) ClearFlags() Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl := f.flags
	f.flags = 0
	return fl
}

// SetIRQ implements Timer.
func (f *Fake) SetIRQ(handler func()) {
	f.mu.Lock()
	f.irq = handler
	f.mu.Unlock()
}

// Flags returns the latched flags without clearing them.
func (f *Fake) Flags() Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

// Armed reports whether Start was called since the last Expire.
func (f *Fake) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// Starts returns every duration passed to a successful Start.
func (f *Fake) Starts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.starts...)
}
