// Package device wires the counter firmware together: the task table, the two
// interrupt handlers, the update task, and the peripherals each one owns.
//
// Priorities:
//
//	2  button, timer   hardware tasks, one per interrupt line
//	1  update          software task, owns the counter state and the LEDs
//
// The timer is shared by the timer handler and the update task and is only
// reached through a ceiling lock at priority 2.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/led-counter/internal/dispatch"
	"github.com/sweeney/led-counter/internal/gpio"
	"github.com/sweeney/led-counter/internal/hwtimer"
	"github.com/sweeney/led-counter/internal/led"
	"github.com/sweeney/led-counter/internal/logic"
	"github.com/sweeney/led-counter/internal/mqtt"
	"github.com/sweeney/led-counter/internal/status"
)

// Task table indices.
const (
	TaskButton dispatch.TaskID = iota
	TaskTimer
	TaskUpdate
)

// Interrupt lines: EXTI0 for the button, TIM2 for the timer.
const (
	IRQButton dispatch.IRQ = 16 + 6
	IRQTimer  dispatch.IRQ = 16 + 28
)

const (
	PriorityUpdate    dispatch.Priority = 1
	PriorityInterrupt dispatch.Priority = 2
)

// ResourceTimer is the shared timer peripheral.
const ResourceTimer dispatch.ResourceID = "timer"

// DefaultInterval is the timer re-arm period while counting.
const DefaultInterval = 200 * time.Millisecond

// Telemetry receives a copy of every processed event. Enqueue must not block.
type Telemetry interface {
	Enqueue(event mqtt.StateEvent)
}

// Options are the peripherals and settings handed to New.
type Options struct {
	Button gpio.Button
	LEDs   *led.Bank
	Timer  hwtimer.Timer

	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// QueueDepth is the update task's queue capacity. Defaults to 1.
	QueueDepth int

	Tracker   *status.Tracker // optional
	Telemetry Telemetry       // optional
	Logger    *log.Logger     // defaults to log.Default()
	Now       func() time.Time
}

// Device is the running counter.
type Device struct {
	d        *dispatch.Dispatcher[logic.Event]
	button   gpio.Button
	timer    *dispatch.Resource[hwtimer.Timer]
	leds     *led.Bank
	interval time.Duration

	tracker   *status.Tracker
	telemetry Telemetry
	logger    *log.Logger
	now       func() time.Time

	// owned by the update task
	state  logic.State
	counts logic.EventCounts

	mu   sync.Mutex
	seen logic.State // copy of state for readers outside the dispatcher
}

// New builds the task table, binds the interrupt lines and puts the LEDs in
// the Idle pattern. Nothing is dispatched until Run.
func New(opts Options) (*Device, error) {
	if opts.Button == nil || opts.LEDs == nil || opts.Timer == nil {
		return nil, errors.New("device: button, LEDs and timer are required")
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if err := hwtimer.Validate(opts.Interval); err != nil {
		return nil, fmt.Errorf("device: interval: %w", err)
	}
	if opts.QueueDepth == 0 {
		opts.QueueDepth = dispatch.DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dev := &Device{
		button:    opts.Button,
		leds:      opts.LEDs,
		interval:  opts.Interval,
		tracker:   opts.Tracker,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		now:       opts.Now,
		state:     logic.Idle(),
	}

	shared := []dispatch.ResourceID{ResourceTimer}
	tasks := []dispatch.Task[logic.Event]{
		TaskButton: {Name: "button", Priority: PriorityInterrupt, IRQ: IRQButton, Handler: dev.onButton},
		TaskTimer:  {Name: "timer", Priority: PriorityInterrupt, IRQ: IRQTimer, Resources: shared, Handler: dev.onTimer},
		TaskUpdate: {Name: "update", Priority: PriorityUpdate, Capacity: opts.QueueDepth, Resources: shared, Handler: dev.onUpdate},
	}

	d, err := dispatch.New(tasks, dispatch.WithLogger(opts.Logger))
	if err != nil {
		return nil, err
	}
	dev.d = d

	dev.timer, err = dispatch.Share(d, ResourceTimer, opts.Timer)
	if err != nil {
		return nil, err
	}

	dev.leds.Write(led.PatternFor(dev.state.Value()))
	if dev.tracker != nil {
		dev.tracker.Update(dev.state, dev.leds.Read(), dev.counts)
		dev.tracker.SetTaskSource(d.Stats)
	}

	opts.Button.SetIRQ(func() { dev.pend(IRQButton) })
	opts.Timer.SetIRQ(func() { dev.pend(IRQTimer) })
	return dev, nil
}

func (dev *Device) pend(irq dispatch.IRQ) {
	if err := dev.d.Pend(irq); err != nil && !errors.Is(err, dispatch.ErrHalted) {
		dev.logger.Printf("device: pend irq %d: %v", irq, err)
	}
}

func (dev *Device) spawn(c *dispatch.Context[logic.Event], e logic.Event) {
	// a full queue is already counted and logged by the dispatcher
	if err := c.Spawn(TaskUpdate, e); err != nil && !errors.Is(err, dispatch.ErrQueueFull) {
		dev.logger.Printf("device: %s: spawn %s: %v", c.Task(), e, err)
	}
}

func (dev *Device) onButton(c *dispatch.Context[logic.Event], _ logic.Event) {
	dev.button.ClearPending()
	dev.spawn(c, logic.ButtonPress)
}

func (dev *Device) onTimer(c *dispatch.Context[logic.Event], _ logic.Event) {
	dispatch.Lock(c, dev.timer, func(t hwtimer.Timer) {
		t.ClearFlags()
	})
	dev.spawn(c, logic.TimerElapsed)
}

func (dev *Device) onUpdate(c *dispatch.Context[logic.Event], e logic.Event) {
	prev := dev.state
	dev.state.Update(e)

	pattern := led.PatternFor(dev.state.Value())
	dev.leds.Write(pattern)

	if dev.state.Active() {
		dispatch.Lock(c, dev.timer, func(t hwtimer.Timer) {
			if err := t.Start(dev.interval); err != nil {
				panic(fmt.Errorf("start timer: %w", err))
			}
		})
	}

	dev.counts.Add(prev, e)
	dev.mu.Lock()
	dev.seen = dev.state
	dev.mu.Unlock()

	if prev != dev.state {
		dev.logger.Printf("device: %s: %s -> %s", e, prev, dev.state)
	}
	if dev.tracker != nil {
		dev.tracker.Update(dev.state, pattern, dev.counts)
	}
	if dev.telemetry != nil {
		dev.telemetry.Enqueue(mqtt.StateEvent{
			Timestamp: dev.now(),
			Event:     e,
			State:     dev.state,
			Pattern:   pattern,
		})
	}
}

// Run dispatches interrupts and events until ctx is cancelled or a handler
// fails. A failure is returned as a *dispatch.FatalError.
func (dev *Device) Run(ctx context.Context) error {
	return dev.d.Run(ctx)
}

// Reset returns the counter to Idle. The request is queued behind pending
// events like any other.
func (dev *Device) Reset() error {
	return dev.d.Spawn(TaskUpdate, logic.Reset)
}

// State returns the counter state as of the last completed update.
func (dev *Device) State() logic.State {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.seen
}

// WaitIdle blocks until every interrupt and queued event has been handled.
func (dev *Device) WaitIdle(ctx context.Context) error {
	return dev.d.WaitIdle(ctx)
}

// Stats returns the dispatcher statistics for every task.
func (dev *Device) Stats() []dispatch.TaskStats {
	return dev.d.Stats()
}
