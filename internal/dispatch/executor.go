package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run executes tasks until ctx is cancelled or a handler panics.
//
// There is one executor per priority level. A level only starts a handler when
// its priority is above the current system priority (the highest running level
// or raised ceiling), so a higher level may start while a lower one is in the
// middle of a handler, but never the other way round. A handler that is already
// running is always allowed to finish.
//
// Run returns nil after cancellation and a *FatalError after a handler panic.
func (d *Dispatcher[M]) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.started = true
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { d.halt(nil) })
	defer stop()

	for _, p := range d.levels {
		p := p
		g.Go(func() error { return d.runLevel(p) })
	}

	return g.Wait()
}

func (d *Dispatcher[M]) runLevel(p Priority) error {
	for {
		d.mu.Lock()
		for !d.halted && !d.canStart(p) {
			d.cond.Wait()
		}
		if d.halted {
			d.mu.Unlock()
			return nil
		}
		t, msg := d.pop(p)
		t.running = true
		d.active[p] = true
		d.mu.Unlock()

		ferr := d.invoke(t, msg)

		d.mu.Lock()
		t.running = false
		t.runs++
		d.active[p] = false
		d.cond.Broadcast()
		d.mu.Unlock()

		if ferr != nil {
			d.logger.Printf("dispatch: %v; halting", ferr)
			d.halt(ferr)
			return ferr
		}
	}
}

func (d *Dispatcher[M]) invoke(t *task[M], msg M) (ferr *FatalError) {
	defer func() {
		if r := recover(); r != nil {
			ferr = &FatalError{Task: t.Name, Value: r}
		}
	}()
	t.Handler(&Context[M]{d: d, t: t}, msg)
	return nil
}

func (d *Dispatcher[M]) halt(ferr *FatalError) {
	d.mu.Lock()
	if !d.halted {
		d.halted = true
		if ferr != nil {
			d.fatal = ferr
		}
	}
	d.cond.Broadcast()
	d.mu.Unlock()
}

// systemPriority is the highest running level or raised ceiling. 0 when idle.
// Caller holds d.mu.
func (d *Dispatcher[M]) systemPriority() Priority {
	var sys Priority
	for p, on := range d.active {
		if on && p > sys {
			sys = p
		}
	}
	for _, c := range d.held {
		if c > sys {
			sys = c
		}
	}
	return sys
}

// canStart reports whether level p may dispatch its next activation: it has
// work, it is above the system priority and no higher level is due first.
// Caller holds d.mu.
func (d *Dispatcher[M]) canStart(p Priority) bool {
	return d.ready(p) && p > d.systemPriority() && !d.preempted(p)
}

// ready reports whether any task of level p has work. Caller holds d.mu.
func (d *Dispatcher[M]) ready(p Priority) bool {
	for _, t := range d.byLevel[p] {
		if t.hasWork() {
			return true
		}
	}
	return false
}

// pop takes the oldest activation of level p. Caller holds d.mu and has
// checked ready(p).
func (d *Dispatcher[M]) pop(p Priority) (*task[M], M) {
	var next *task[M]
	for _, t := range d.byLevel[p] {
		if !t.hasWork() {
			continue
		}
		if next == nil || t.head() < next.head() {
			next = t
		}
	}

	var msg M
	if next.pending && next.head() == next.pendingSeq {
		next.pending = false
		return next, msg
	}
	msg = next.queue[0].msg
	n := copy(next.queue, next.queue[1:])
	next.queue[n] = entry[M]{}
	next.queue = next.queue[:n]
	return next, msg
}

// preempted reports whether a task at level p would be kept off the CPU right
// now: some higher level is running, or has work and is allowed to start.
// Caller holds d.mu.
func (d *Dispatcher[M]) preempted(p Priority) bool {
	sys := d.systemPriority()
	for _, q := range d.levels {
		if q <= p {
			break
		}
		if d.active[q] {
			return true
		}
		if q > sys && d.ready(q) {
			return true
		}
	}
	return false
}

func (d *Dispatcher[M]) idle() bool {
	for _, on := range d.active {
		if on {
			return false
		}
	}
	for _, t := range d.tasks {
		if t.running || t.hasWork() {
			return false
		}
	}
	return true
}

// WaitIdle blocks until no task is queued, pending or running.
// It returns the fatal error if the dispatcher halted on a panic, and
// ErrHalted if it stopped with work left over.
func (d *Dispatcher[M]) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if d.fatal != nil {
			return d.fatal
		}
		if d.idle() {
			return nil
		}
		if d.halted {
			return ErrHalted
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cond.Wait()
	}
}

// TaskStats is a point-in-time view of one task.
type TaskStats struct {
	ID        TaskID
	Name      string
	Priority  Priority
	IRQ       IRQ
	Capacity  int
	State     TaskState
	Queued    int
	Runs      uint64
	Spawned   uint64
	Dropped   uint64
	Raised    uint64
	Coalesced uint64
}

// Stats returns a snapshot of every task, in table order.
func (d *Dispatcher[M]) Stats() []TaskStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]TaskStats, 0, len(d.tasks))
	for _, t := range d.tasks {
		queued := len(t.queue)
		if t.pending {
			queued++
		}
		out = append(out, TaskStats{
			ID:        t.id,
			Name:      t.Name,
			Priority:  t.Priority,
			IRQ:       t.IRQ,
			Capacity:  t.Capacity,
			State:     t.state(),
			Queued:    queued,
			Runs:      t.runs,
			Spawned:   t.spawned,
			Dropped:   t.dropped,
			Raised:    t.raised,
			Coalesced: t.coalesced,
		})
	}
	return out
}
