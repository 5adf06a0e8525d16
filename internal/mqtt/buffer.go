package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that keeps the most recent items.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer[T any] struct {
	name     string
	buf      []T
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any item was dropped since last drain
}

func newRingBuffer[T any](name string, capacity int) *ringBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer[T]{
		name:     name,
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer[T]) push(item T) {
	if r.count == r.capacity {
		if !r.overflow {
			log.Printf("mqtt: %s buffer full (%d messages), dropping oldest", r.name, r.capacity)
			r.overflow = true
		}
		// head already points at the oldest item
		r.buf[r.head] = item
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer[T]) drainAll() []T {
	if r.count == 0 {
		return nil
	}

	result := make([]T, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	var zero T
	for i := 0; i < r.count; i++ {
		j := (start + i) % r.capacity
		result[i] = r.buf[j]
		r.buf[j] = zero
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer[T]) len() int {
	return r.count
}
