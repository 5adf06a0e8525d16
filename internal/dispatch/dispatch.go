// Package dispatch is a fixed-priority, run-to-completion task dispatcher.
//
// A Dispatcher is built from a static table of tasks. Each task is either bound
// to an interrupt line (hardware task, activated by Pend) or spawnable from
// software with a bounded message queue (software task, activated by Spawn).
// The ready task with the highest priority always runs first; among tasks of
// one priority the oldest activation wins. Tasks of equal priority never run
// concurrently.
//
// Shared peripherals are wrapped in a Resource whose ceiling is the highest
// priority of any task declaring access to it. Lock raises the system priority
// to that ceiling for the duration of one access (stack resource policy), so no
// task that shares the resource can start in the middle of it.
package dispatch

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/exp/slices"
)

// Priority of a task. Higher values preempt lower ones. Valid priorities are >= 1.
type Priority uint8

// TaskID is the index of a task in the table passed to New.
type TaskID int

// IRQ is an interrupt vector number. External lines start at 16, following
// the Cortex-M exception numbering; 0 means "not bound to a line".
type IRQ int

// NoIRQ marks a software task.
const NoIRQ IRQ = 0

// DefaultCapacity is the queue depth given to software tasks that don't set one.
const DefaultCapacity = 1

var (
	ErrQueueFull      = errors.New("dispatch: queue full")
	ErrUnknownTask    = errors.New("dispatch: unknown task")
	ErrNotSpawnable   = errors.New("dispatch: task is bound to an interrupt line")
	ErrUnboundIRQ     = errors.New("dispatch: interrupt line not bound")
	ErrHalted         = errors.New("dispatch: halted")
	ErrAlreadyRunning = errors.New("dispatch: already running")
)

// FatalError is returned by Run when a handler panics. The dispatcher halts.
type FatalError struct {
	Task  string
	Value any
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("dispatch: fatal error in task %s: %v", e.Task, e.Value)
}

// Handler is the entry point of a task. It runs to completion.
// Hardware tasks receive the zero message.
type Handler[M any] func(c *Context[M], msg M)

// Task is one row of the dispatch table.
type Task[M any] struct {
	Name     string
	Priority Priority
	// IRQ binds the task to an interrupt line. NoIRQ makes it a software task.
	IRQ IRQ
	// Capacity is the number of spawned messages that may wait. Software tasks only.
	Capacity int
	// Resources lists the shared resources the handler may Lock.
	Resources []ResourceID
	Handler   Handler[M]
}

// TaskState is the lifecycle of a single task.
type TaskState uint8

const (
	TaskIdle TaskState = iota
	TaskQueued
	TaskRunning
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "IDLE"
	case TaskQueued:
		return "QUEUED"
	case TaskRunning:
		return "RUNNING"
	}
	return fmt.Sprintf("TaskState(%d)", uint8(s))
}

type entry[M any] struct {
	msg M
	seq uint64
}

type task[M any] struct {
	Task[M]
	id TaskID

	queue      []entry[M]
	pending    bool // interrupt line pending bit
	pendingSeq uint64
	running    bool

	runs      uint64
	spawned   uint64
	dropped   uint64
	raised    uint64
	coalesced uint64
}

func (t *task[M]) hasWork() bool {
	return t.pending || len(t.queue) > 0
}

// head returns the sequence number of the oldest activation. Only valid if hasWork.
func (t *task[M]) head() uint64 {
	if t.pending && (len(t.queue) == 0 || t.pendingSeq < t.queue[0].seq) {
		return t.pendingSeq
	}
	return t.queue[0].seq
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger sets the logger used for diagnostics (drops, fatal errors).
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Dispatcher runs a fixed table of tasks by priority.
type Dispatcher[M any] struct {
	logger   *log.Logger
	tasks    []*task[M]
	byLevel  map[Priority][]*task[M]
	levels   []Priority // distinct priorities, highest first
	irqs     map[IRQ]*task[M]
	ceilings map[ResourceID]Priority

	mu      sync.Mutex
	cond    *sync.Cond
	active  map[Priority]bool   // levels currently executing a handler
	held    map[uint64]Priority // ceilings raised by Lock
	seq     uint64
	lockSeq uint64
	started bool
	halted  bool
	fatal   *FatalError
}

// New validates the task table and builds a Dispatcher. Nothing runs until Run.
func New[M any](tasks []Task[M], opts ...Option) (*Dispatcher[M], error) {
	if len(tasks) == 0 {
		return nil, errors.New("dispatch: empty task table")
	}

	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher[M]{
		logger:  o.logger,
		byLevel: map[Priority][]*task[M]{},
		irqs:    map[IRQ]*task[M]{},
		active:  map[Priority]bool{},
		held:    map[uint64]Priority{},
	}
	d.cond = sync.NewCond(&d.mu)

	for i, row := range tasks {
		if row.Name == "" {
			row.Name = fmt.Sprintf("task%d", i)
		}
		if row.Priority < 1 {
			return nil, fmt.Errorf("dispatch: task %s: priority must be >= 1", row.Name)
		}
		if row.Handler == nil {
			return nil, fmt.Errorf("dispatch: task %s: nil handler", row.Name)
		}
		t := &task[M]{Task: row, id: TaskID(i)}
		if row.IRQ != NoIRQ {
			if row.IRQ < 0 {
				return nil, fmt.Errorf("dispatch: task %s: invalid IRQ %d", row.Name, row.IRQ)
			}
			if other, ok := d.irqs[row.IRQ]; ok {
				return nil, fmt.Errorf("dispatch: IRQ %d bound to both %s and %s", row.IRQ, other.Name, row.Name)
			}
			d.irqs[row.IRQ] = t
			t.Capacity = 1 // the line's pending bit
		} else {
			if t.Capacity <= 0 {
				t.Capacity = DefaultCapacity
			}
			t.queue = make([]entry[M], 0, t.Capacity)
		}
		d.tasks = append(d.tasks, t)
		if _, ok := d.byLevel[t.Priority]; !ok {
			d.levels = append(d.levels, t.Priority)
		}
		d.byLevel[t.Priority] = append(d.byLevel[t.Priority], t)
	}

	slices.SortFunc(d.levels, func(a, b Priority) bool { return a > b })
	d.ceilings = analyzeCeilings(tasks)
	return d, nil
}

// Spawn queues msg for the software task id. It never blocks: if the task's
// queue is full the message is dropped, the drop is counted and logged, and
// an error wrapping ErrQueueFull is returned.
func (d *Dispatcher[M]) Spawn(id TaskID, msg M) error {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return ErrHalted
	}
	t, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if t.IRQ != NoIRQ {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSpawnable, t.Name)
	}
	if len(t.queue) >= t.Capacity {
		t.dropped++
		d.mu.Unlock()
		d.logger.Printf("dispatch: %s queue full (capacity %d), dropping spawn", t.Name, t.Capacity)
		return fmt.Errorf("%w: %s", ErrQueueFull, t.Name)
	}

	d.seq++
	t.queue = append(t.queue, entry[M]{msg: msg, seq: d.seq})
	t.spawned++
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}

// Pend marks an interrupt line as pending, like a hardware trigger would.
// Safe to call from any goroutine. A line that is already pending stays
// pending once; the extra trigger is counted as coalesced.
func (d *Dispatcher[M]) Pend(irq IRQ) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.halted {
		return ErrHalted
	}
	t, ok := d.irqs[irq]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnboundIRQ, irq)
	}
	if t.pending {
		t.coalesced++
		return nil
	}
	d.seq++
	t.pending = true
	t.pendingSeq = d.seq
	t.raised++
	d.cond.Broadcast()
	return nil
}

// State returns the lifecycle state of a task.
func (d *Dispatcher[M]) State(id TaskID) (TaskState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return TaskIdle, err
	}
	return t.state(), nil
}

// Ceiling returns the computed ceiling of a resource.
func (d *Dispatcher[M]) Ceiling(id ResourceID) (Priority, bool) {
	p, ok := d.ceilings[id]
	return p, ok
}

func (t *task[M]) state() TaskState {
	switch {
	case t.running:
		return TaskRunning
	case t.hasWork():
		return TaskQueued
	}
	return TaskIdle
}

func (d *Dispatcher[M]) lookup(id TaskID) (*task[M], error) {
	if id < 0 || int(id) >= len(d.tasks) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	return d.tasks[id], nil
}

// Context is passed to a running handler.
type Context[M any] struct {
	d *Dispatcher[M]
	t *task[M]
}

// Spawn queues a message for another software task.
func (c *Context[M]) Spawn(id TaskID, msg M) error {
	return c.d.Spawn(id, msg)
}

// Task returns the name of the running task.
func (c *Context[M]) Task() string { return c.t.Name }

// Priority returns the static priority of the running task.
func (c *Context[M]) Priority() Priority { return c.t.Priority }
