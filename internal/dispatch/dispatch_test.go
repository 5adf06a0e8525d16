package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	irqA IRQ = 22
	irqB IRQ = 23
)

// start runs d in the background. The returned function cancels it and
// returns Run's result.
func start[M any](t *testing.T, d *Dispatcher[M]) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-errc:
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
		})
		return result
	}
	t.Cleanup(func() { stop() })
	return stop
}

func waitIdle[M any](t *testing.T, d *Dispatcher[M]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

// recorder collects handler activity in order.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func quietLogger(buf *bytes.Buffer) Option {
	return WithLogger(log.New(buf, "", 0))
}

func TestNewValidation(t *testing.T) {
	noop := func(*Context[int], int) {}

	if _, err := New[int](nil); err == nil {
		t.Error("expected error for empty table")
	}
	if _, err := New([]Task[int]{{Name: "p0", Priority: 0, Handler: noop}}); err == nil {
		t.Error("expected error for priority 0")
	}
	if _, err := New([]Task[int]{{Name: "nil", Priority: 1}}); err == nil {
		t.Error("expected error for nil handler")
	}
	if _, err := New([]Task[int]{{Name: "neg", Priority: 1, IRQ: -3, Handler: noop}}); err == nil {
		t.Error("expected error for negative IRQ")
	}
	_, err := New([]Task[int]{
		{Name: "a", Priority: 2, IRQ: irqA, Handler: noop},
		{Name: "b", Priority: 2, IRQ: irqA, Handler: noop},
	})
	if err == nil {
		t.Error("expected error for duplicate IRQ binding")
	}
}

func TestSpawnErrors(t *testing.T) {
	d, err := New([]Task[int]{
		{Name: "hw", Priority: 2, IRQ: irqA, Handler: func(*Context[int], int) {}},
		{Name: "sw", Priority: 1, Handler: func(*Context[int], int) {}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.Spawn(7, 1); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("unknown task: got %v, want ErrUnknownTask", err)
	}
	if err := d.Spawn(-1, 1); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("negative task: got %v, want ErrUnknownTask", err)
	}
	if err := d.Spawn(0, 1); !errors.Is(err, ErrNotSpawnable) {
		t.Errorf("hardware task: got %v, want ErrNotSpawnable", err)
	}
	if err := d.Pend(99); !errors.Is(err, ErrUnboundIRQ) {
		t.Errorf("unbound line: got %v, want ErrUnboundIRQ", err)
	}
	if _, err := d.State(5); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("State unknown: got %v", err)
	}
}

func TestQueueFullDropsAndReports(t *testing.T) {
	var logs bytes.Buffer
	rec := &recorder{}
	d, err := New([]Task[string]{
		{Name: "update", Priority: 1, Capacity: 1, Handler: func(_ *Context[string], msg string) { rec.add(msg) }},
	}, quietLogger(&logs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.Spawn(0, "first"); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	err = d.Spawn(0, "second")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second spawn: got %v, want ErrQueueFull", err)
	}
	if !strings.Contains(err.Error(), "update") {
		t.Errorf("error should name the task: %v", err)
	}
	if !strings.Contains(logs.String(), "update queue full") {
		t.Errorf("expected drop to be logged, got %q", logs.String())
	}

	start(t, d)
	waitIdle(t, d)

	got := rec.list()
	if len(got) != 1 || got[0] != "first" {
		t.Errorf("processed: got %v, want [first]", got)
	}
	st := d.Stats()[0]
	if st.Dropped != 1 || st.Spawned != 1 || st.Runs != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestCapacityTwoKeepsBackToBackSpawnsInOrder(t *testing.T) {
	rec := &recorder{}
	d, err := New([]Task[string]{
		{Name: "update", Priority: 1, Capacity: 2, Handler: func(_ *Context[string], msg string) { rec.add(msg) }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, m := range []string{"press", "elapsed"} {
		if err := d.Spawn(0, m); err != nil {
			t.Fatalf("spawn %s: %v", m, err)
		}
	}

	start(t, d)
	waitIdle(t, d)

	got := rec.list()
	if len(got) != 2 || got[0] != "press" || got[1] != "elapsed" {
		t.Errorf("processed: got %v, want [press elapsed]", got)
	}
	if d.Stats()[0].Dropped != 0 {
		t.Error("no spawn should have been dropped")
	}
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	rec := &recorder{}
	d, err := New([]Task[int]{
		{Name: "low", Priority: 1, Handler: func(*Context[int], int) { rec.add("low") }},
		{Name: "high", Priority: 2, IRQ: irqA, Handler: func(*Context[int], int) { rec.add("high") }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Low is queued first but high must still win.
	if err := d.Spawn(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.Pend(irqA); err != nil {
		t.Fatal(err)
	}

	start(t, d)
	waitIdle(t, d)

	got := rec.list()
	if len(got) != 2 || got[0] != "high" || got[1] != "low" {
		t.Errorf("order: got %v, want [high low]", got)
	}
}

func TestOldestFirstAmongEqualPriorities(t *testing.T) {
	rec := &recorder{}
	h := func(_ *Context[string], msg string) { rec.add(msg) }
	d, err := New([]Task[string]{
		{Name: "one", Priority: 1, Capacity: 4, Handler: h},
		{Name: "two", Priority: 1, Capacity: 4, Handler: h},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Spawn(0, "a")
	d.Spawn(1, "b")
	d.Spawn(0, "c")
	d.Spawn(1, "d")

	start(t, d)
	waitIdle(t, d)

	want := []string{"a", "b", "c", "d"}
	got := rec.list()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPendCoalesces(t *testing.T) {
	var runs atomic.Int32
	d, err := New([]Task[int]{
		{Name: "button", Priority: 2, IRQ: irqA, Handler: func(*Context[int], int) { runs.Add(1) }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Pend(irqA)
	d.Pend(irqA)
	if st, _ := d.State(0); st != TaskQueued {
		t.Errorf("state after Pend: got %s, want QUEUED", st)
	}

	start(t, d)
	waitIdle(t, d)

	if runs.Load() != 1 {
		t.Errorf("runs: got %d, want 1", runs.Load())
	}
	st := d.Stats()[0]
	if st.Raised != 1 || st.Coalesced != 1 {
		t.Errorf("stats: got raised=%d coalesced=%d, want 1/1", st.Raised, st.Coalesced)
	}
	if st.Capacity != 1 {
		t.Errorf("hardware task capacity: got %d, want 1", st.Capacity)
	}
}

func TestHigherPriorityPreemptsRunningTask(t *testing.T) {
	lowStarted := make(chan struct{})
	release := make(chan struct{})
	highDone := make(chan struct{})

	d, err := New([]Task[int]{
		{Name: "low", Priority: 1, Handler: func(*Context[int], int) {
			close(lowStarted)
			<-release
		}},
		{Name: "high", Priority: 2, IRQ: irqA, Handler: func(*Context[int], int) { close(highDone) }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Spawn(0, 0)
	start(t, d)
	waitFor(t, lowStarted, "low to start")

	if st, _ := d.State(0); st != TaskRunning {
		t.Errorf("low state: got %s, want RUNNING", st)
	}

	d.Pend(irqA)
	waitFor(t, highDone, "high to preempt low")

	close(release)
	waitIdle(t, d)
	if st, _ := d.State(0); st != TaskIdle {
		t.Errorf("low state after return: got %s, want IDLE", st)
	}
}

func TestLowerPriorityWaitsForHigher(t *testing.T) {
	highStarted := make(chan struct{})
	release := make(chan struct{})
	lowDone := make(chan struct{})
	var highFinished, lowEarly atomic.Bool

	d, err := New([]Task[int]{
		{Name: "low", Priority: 1, Handler: func(*Context[int], int) {
			if !highFinished.Load() {
				lowEarly.Store(true)
			}
			close(lowDone)
		}},
		{Name: "high", Priority: 2, IRQ: irqA, Handler: func(*Context[int], int) {
			close(highStarted)
			<-release
			highFinished.Store(true)
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Pend(irqA)
	start(t, d)
	waitFor(t, highStarted, "high to start")

	d.Spawn(0, 0)
	time.Sleep(20 * time.Millisecond)
	if st, _ := d.State(0); st != TaskQueued {
		t.Errorf("low state while high runs: got %s, want QUEUED", st)
	}

	close(release)
	waitFor(t, lowDone, "low to run")
	if lowEarly.Load() {
		t.Error("low started before high returned")
	}
}

func TestEqualPriorityNeverConcurrent(t *testing.T) {
	var inFlight atomic.Int32
	var overlap atomic.Bool
	h := func(*Context[int], int) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(200 * time.Microsecond)
		inFlight.Add(-1)
	}
	d, err := New([]Task[int]{
		{Name: "one", Priority: 1, Capacity: 16, Handler: h},
		{Name: "two", Priority: 1, Capacity: 16, Handler: h},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start(t, d)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id TaskID) {
			defer wg.Done()
			for n := 0; n < 16; n++ {
				d.Spawn(id, n)
			}
		}(TaskID(i))
	}
	wg.Wait()
	waitIdle(t, d)

	if overlap.Load() {
		t.Error("handlers of equal priority overlapped")
	}
	var runs uint64
	for _, st := range d.Stats() {
		runs += st.Runs + st.Dropped
	}
	if runs != 32 {
		t.Errorf("runs+dropped: got %d, want 32", runs)
	}
}

func TestCeilingAnalysis(t *testing.T) {
	noop := func(*Context[int], int) {}
	d, err := New([]Task[int]{
		{Name: "update", Priority: 1, Resources: []ResourceID{"timer", "leds"}, Handler: noop},
		{Name: "tick", Priority: 2, IRQ: irqA, Resources: []ResourceID{"timer"}, Handler: noop},
		{Name: "fast", Priority: 3, IRQ: irqB, Handler: noop},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c, ok := d.Ceiling("timer"); !ok || c != 2 {
		t.Errorf("timer ceiling: got %d/%v, want 2", c, ok)
	}
	if c, ok := d.Ceiling("leds"); !ok || c != 1 {
		t.Errorf("leds ceiling: got %d/%v, want 1", c, ok)
	}
	if _, ok := d.Ceiling("none"); ok {
		t.Error("unknown resource should have no ceiling")
	}

	if _, err := Share(d, "none", 0); err == nil {
		t.Error("Share of undeclared resource should fail")
	}
	r, err := Share(d, "timer", 0)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if r.Ceiling() != 2 || r.ID() != "timer" {
		t.Errorf("resource: got %s ceiling %d", r.ID(), r.Ceiling())
	}
}

func TestLockExcludesSharingTaskOnly(t *testing.T) {
	locked := make(chan struct{})
	release := make(chan struct{})
	sharedDone := make(chan struct{})
	unrelatedDone := make(chan struct{})

	counter := new(int)
	var res *Resource[*int]
	var seen int

	d, err := New([]Task[int]{
		{Name: "update", Priority: 1, Resources: []ResourceID{"timer"}, Handler: func(c *Context[int], _ int) {
			Lock(c, res, func(v *int) {
				close(locked)
				<-release
				*v++
			})
		}},
		{Name: "tick", Priority: 2, IRQ: irqA, Resources: []ResourceID{"timer"}, Handler: func(c *Context[int], _ int) {
			Lock(c, res, func(v *int) { seen = *v })
			close(sharedDone)
		}},
		{Name: "fast", Priority: 3, IRQ: irqB, Handler: func(*Context[int], int) { close(unrelatedDone) }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err = Share(d, "timer", counter)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}

	d.Spawn(0, 0)
	start(t, d)
	waitFor(t, locked, "update to take the lock")

	d.Pend(irqA)
	d.Pend(irqB)

	// Priority 3 is above the ceiling and may run inside the critical section.
	waitFor(t, unrelatedDone, "unrelated task to preempt the critical section")

	select {
	case <-sharedDone:
		t.Fatal("task sharing the resource ran inside the critical section")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	waitFor(t, sharedDone, "sharing task after unlock")
	if seen != 1 {
		t.Errorf("sharing task saw %d, want 1 (value after the critical section)", seen)
	}
	waitIdle(t, d)
}

func TestPanicHaltsDispatcher(t *testing.T) {
	var logs bytes.Buffer
	noop := func(*Context[int], int) {}
	var res *Resource[int]

	d, err := New([]Task[int]{
		{Name: "owner", Priority: 2, IRQ: irqA, Resources: []ResourceID{"timer"}, Handler: noop},
		{Name: "rogue", Priority: 1, Handler: func(c *Context[int], _ int) {
			Lock(c, res, func(int) {})
		}},
	}, quietLogger(&logs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, _ = Share(d, "timer", 0)

	d.Spawn(1, 0)
	errc := make(chan error, 1)
	go func() { errc <- d.Run(context.Background()) }()

	var runErr error
	select {
	case runErr = <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after panic")
	}

	var fatal *FatalError
	if !errors.As(runErr, &fatal) {
		t.Fatalf("Run: got %v, want *FatalError", runErr)
	}
	if fatal.Task != "rogue" {
		t.Errorf("fatal task: got %q, want rogue", fatal.Task)
	}
	if !strings.Contains(logs.String(), "halting") {
		t.Errorf("expected halt to be logged, got %q", logs.String())
	}
	if err := d.Spawn(1, 0); !errors.Is(err, ErrHalted) {
		t.Errorf("Spawn after halt: got %v, want ErrHalted", err)
	}
	if err := d.Pend(irqA); !errors.Is(err, ErrHalted) {
		t.Errorf("Pend after halt: got %v, want ErrHalted", err)
	}
	if err := d.WaitIdle(context.Background()); !errors.As(err, &fatal) {
		t.Errorf("WaitIdle after halt: got %v, want *FatalError", err)
	}
}

func TestRunCancelAndRestart(t *testing.T) {
	d, err := New([]Task[int]{
		{Name: "sw", Priority: 1, Handler: func(*Context[int], int) {}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stop := start(t, d)
	if err := stop(); err != nil {
		t.Errorf("Run after cancel: got %v, want nil", err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run: got %v, want ErrAlreadyRunning", err)
	}
}

func TestContextAccessors(t *testing.T) {
	type seen struct {
		name string
		prio Priority
		err  error
	}
	got := make(chan seen, 1)
	d, err := New([]Task[int]{
		{Name: "first", Priority: 2, IRQ: irqA, Handler: func(c *Context[int], _ int) {
			got <- seen{c.Task(), c.Priority(), c.Spawn(1, 5)}
		}},
		{Name: "second", Priority: 1, Handler: func(*Context[int], int) {}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Pend(irqA)
	start(t, d)
	waitIdle(t, d)

	s := <-got
	if s.name != "first" || s.prio != 2 || s.err != nil {
		t.Errorf("context: got %+v", s)
	}
	if d.Stats()[1].Runs != 1 {
		t.Error("spawned task did not run")
	}
}

func TestTaskStateString(t *testing.T) {
	for s, want := range map[TaskState]string{TaskIdle: "IDLE", TaskQueued: "QUEUED", TaskRunning: "RUNNING", 9: "TaskState(9)"} {
		if s.String() != want {
			t.Errorf("got %q, want %q", s.String(), want)
		}
	}
}
