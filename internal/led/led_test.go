package led

import (
	"testing"

	"github.com/sweeney/led-counter/internal/gpio"
	"github.com/sweeney/led-counter/internal/logic"
)

func newFakeBank(t *testing.T) (*Bank, []*gpio.FakePin) {
	t.Helper()
	fakes := make([]*gpio.FakePin, Width)
	pins := make([]gpio.Pin, Width)
	for i := range fakes {
		fakes[i] = gpio.NewFakePin(true)
		pins[i] = fakes[i]
	}
	b, err := NewBank(pins...)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	return b, fakes
}

func TestNewBankRequiresFourPins(t *testing.T) {
	if _, err := NewBank(gpio.NewFakePin(true)); err == nil {
		t.Error("expected error for one pin")
	}
	if _, err := NewBank(gpio.NewFakePin(true), nil, gpio.NewFakePin(true), gpio.NewFakePin(true)); err == nil {
		t.Error("expected error for nil pin")
	}
}

func TestPatternRoundTrip(t *testing.T) {
	b, fakes := newFakeBank(t)

	for count := uint32(0); count <= logic.MaxCount; count++ {
		pattern := PatternFor(logic.Counting(count).Value())
		if pattern != uint8(count&0b1111) {
			t.Fatalf("count %d: pattern %04b, want %04b", count, pattern, count&0b1111)
		}

		b.Write(pattern)
		for i, p := range fakes {
			bit := pattern&(1<<i) != 0
			if p.Get() != !bit {
				t.Errorf("count %d LED%d: line %v, want %v (active-low)", count, i, p.Get(), !bit)
			}
		}
		if got := b.Read(); got != pattern {
			t.Errorf("count %d: Read %04b, want %04b", count, got, pattern)
		}
	}
}

func TestIdleTurnsAllLEDsOff(t *testing.T) {
	b, fakes := newFakeBank(t)
	b.Write(0b1111)
	b.Write(PatternFor(logic.Idle().Value()))

	for i, p := range fakes {
		if !p.Get() {
			t.Errorf("LED%d line low (lit) after Idle", i)
		}
	}
}

func TestLevels(t *testing.T) {
	// LED0 and LED1 lit (low), LED2 and LED3 off (high)
	if got := Levels([]bool{false, false, true, true}); got != 0b0011 {
		t.Errorf("Levels: got %04b, want 0011", got)
	}
	if got := Levels([]bool{true, true, true, true, false}); got != 0 {
		t.Errorf("extra lines must be ignored: got %04b", got)
	}
}

func TestRender(t *testing.T) {
	tests := map[uint8]string{0: "0000", 3: "0011", 8: "1000", 15: "1111"}
	for p, want := range tests {
		if got := Render(p); got != want {
			t.Errorf("Render(%d): got %q, want %q", p, got, want)
		}
	}
}
