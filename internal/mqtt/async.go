package mqtt

import (
	"context"
	"log"
	"sync"
)

// DefaultAsyncCapacity is the number of state changes Async holds before it
// starts dropping the oldest.
const DefaultAsyncCapacity = 64

// Async decouples state publishing from the caller. Enqueue never blocks;
// Run delivers queued events to the underlying Publisher in order.
type Async struct {
	pub  Publisher
	wake chan struct{}

	mu  sync.Mutex
	buf *ringBuffer[StateEvent]
}

// NewAsync wraps pub with a queue of the given capacity.
func NewAsync(pub Publisher, capacity int) *Async {
	return &Async{
		pub:  pub,
		wake: make(chan struct{}, 1),
		buf:  newRingBuffer[StateEvent]("telemetry", capacity),
	}
}

// Enqueue queues event for publishing. If the queue is full the oldest event
// is dropped.
func (a *Async) Enqueue(event StateEvent) {
	a.mu.Lock()
	a.buf.push(event)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued events.
func (a *Async) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.len()
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left. Publish errors are logged and the event is discarded.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return nil
		case <-a.wake:
			a.flush()
		}
	}
}

func (a *Async) flush() {
	a.mu.Lock()
	events := a.buf.drainAll()
	a.mu.Unlock()

	for _, ev := range events {
		if err := a.pub.Publish(ev); err != nil {
			log.Printf("mqtt: publish %s: %v", ev.Event, err)
		}
	}
}
