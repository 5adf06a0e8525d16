// Package logic contains the pure counter state machine.
// This package has NO external dependencies (no GPIO, MQTT, timers or dispatcher).
// It is only ever driven from the update task, which owns the single live State.
package logic

import "fmt"

// MaxCount is the highest value a Counting state can hold.
// A TimerElapsed event on Counting(MaxCount) returns to Idle.
const MaxCount = 32

// Event is a hardware-derived input to the state machine.
type Event string

const (
	Reset        Event = "RESET"
	ButtonPress  Event = "BUTTON_PRESS"
	TimerElapsed Event = "TIMER_ELAPSED"
)

// Mode is the tag of a State.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeCounting
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeCounting:
		return "COUNTING"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// State is either Idle or Counting(Count).
// The zero value is Idle. Count is always 0 when Mode is ModeIdle.
type State struct {
	Mode  Mode
	Count uint32
}

// Idle returns the Idle state.
func Idle() State {
	return State{}
}

// Counting returns Counting(n). n is clamped to MaxCount.
func Counting(n uint32) State {
	if n > MaxCount {
		n = MaxCount
	}
	return State{Mode: ModeCounting, Count: n}
}

func (s State) String() string {
	if s.Mode == ModeCounting {
		return fmt.Sprintf("COUNTING(%d)", s.Count)
	}
	return s.Mode.String()
}

// EventCounts tracks the number of processed events since startup.
type EventCounts struct {
	Reset        int
	ButtonPress  int
	TimerElapsed int
	Wraps        int // Counting(MaxCount) -> Idle on TimerElapsed
}

// Add records one processed event. prev is the state the event was applied to.
func (c *EventCounts) Add(prev State, e Event) {
	switch e {
	case Reset:
		c.Reset++
	case ButtonPress:
		c.ButtonPress++
	case TimerElapsed:
		c.TimerElapsed++
		if prev.Mode == ModeCounting && prev.Count >= MaxCount {
			c.Wraps++
		}
	}
}
