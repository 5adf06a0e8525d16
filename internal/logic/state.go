package logic

// Transition returns the state reached by applying e to s.
//
//	any          + Reset        -> Idle
//	Idle         + ButtonPress  -> Counting(0)
//	Counting(c)  + TimerElapsed -> Counting(c+1) if c < MaxCount, else Idle
//	anything else               -> unchanged
func Transition(s State, e Event) State {
	if e == Reset {
		return Idle()
	}

	switch s.Mode {
	case ModeIdle:
		if e == ButtonPress {
			return Counting(0)
		}
	case ModeCounting:
		if e == TimerElapsed {
			if s.Count < MaxCount {
				return Counting(s.Count + 1)
			}
			return Idle()
		}
	}

	// Event is an open string type, so unknown tags land here too.
	return s
}

// Update applies e to s in place.
func (s *State) Update(e Event) {
	*s = Transition(*s, e)
}

// Value returns the counter value: Count when Counting, 0 when Idle.
func (s State) Value() uint32 {
	if s.Mode == ModeCounting {
		return s.Count
	}
	return 0
}

// Active reports whether the state is Counting.
func (s State) Active() bool {
	return s.Mode == ModeCounting
}
