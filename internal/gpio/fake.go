package gpio

import "sync"

// FakePin is an in-memory Pin for tests.
type FakePin struct {
	mu     sync.Mutex
	level  bool
	writes int
}

// NewFakePin creates a FakePin at the given initial level.
func NewFakePin(high bool) *FakePin {
	return &FakePin{level: high}
}

// Set records the new level.
func (p *FakePin) Set(high bool) {
	p.mu.Lock()
	p.level = high
	p.writes++
	p.mu.Unlock()
}

// Get returns the last level set.
func (p *FakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns how many times Set was called.
func (p *FakePin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// FakeButton is a test double for an active-low push button with pull-up.
type FakeButton struct {
	mu      sync.Mutex
	handler func()
	pending bool
	level   bool
	presses int
}

// NewFakeButton creates a released FakeButton (line high).
func NewFakeButton() *FakeButton {
	return &FakeButton{level: true}
}

// SetIRQ installs the edge handler.
func (b *FakeButton) SetIRQ(handler func()) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

// Press pulls the line low, latches the pending flag and fires the handler.
func (b *FakeButton) Press() {
	b.mu.Lock()
	b.level = false
	b.pending = true
	b.presses++
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h()
	}
}

// Release lets the line go high again. Rising edges don't interrupt.
func (b *FakeButton) Release() {
	b.mu.Lock()
	b.level = true
	b.mu.Unlock()
}

// ClearPending acknowledges the latched edge.
func (b *FakeButton) ClearPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.pending
	b.pending = false
	return was
}

// Pending reports whether an edge is latched.
func (b *FakeButton) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Get returns the line level.
func (b *FakeButton) Get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}
