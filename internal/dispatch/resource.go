package dispatch

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// ResourceID names a shared resource in the task table.
type ResourceID string

// Resource is a value shared between tasks of different priorities.
// It can only be reached through Lock.
type Resource[T any] struct {
	id      ResourceID
	ceiling Priority
	owner   any
	value   T
}

// ID returns the resource name.
func (r *Resource[T]) ID() ResourceID { return r.id }

// Ceiling returns the highest priority of any task that declared the resource.
func (r *Resource[T]) Ceiling() Priority { return r.ceiling }

// Share hands v to the dispatcher as resource id. At least one task must list
// id in its Resources.
func Share[M, T any](d *Dispatcher[M], id ResourceID, v T) (*Resource[T], error) {
	c, ok := d.ceilings[id]
	if !ok {
		return nil, fmt.Errorf("dispatch: resource %s is not used by any task", id)
	}
	return &Resource[T]{id: id, ceiling: c, owner: d, value: v}, nil
}

// Lock runs fn with exclusive access to the resource. For the duration of fn
// the system priority is raised to the resource ceiling, which keeps every
// other task that declared the resource from starting. Calling Lock from a
// task that did not declare the resource is a programming error and panics.
func Lock[M, T any](c *Context[M], r *Resource[T], fn func(T)) {
	if r.owner != any(c.d) {
		panic(fmt.Sprintf("dispatch: resource %s belongs to another dispatcher", r.id))
	}
	if !slices.Contains(c.t.Resources, r.id) {
		panic(fmt.Sprintf("dispatch: task %s has no access to resource %s", c.t.Name, r.id))
	}

	tok := c.d.raise(c.t.Priority, r.ceiling)
	defer c.d.restore(tok)
	fn(r.value)
}

// raise pushes a ceiling for a task running at level p. On a single core the
// task could not be executing while higher work is active or due, so it waits
// for that work to drain first.
func (d *Dispatcher[M]) raise(p, ceiling Priority) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.halted && d.preempted(p) {
		d.cond.Wait()
	}
	d.lockSeq++
	d.held[d.lockSeq] = ceiling
	return d.lockSeq
}

func (d *Dispatcher[M]) restore(tok uint64) {
	d.mu.Lock()
	delete(d.held, tok)
	d.cond.Broadcast()
	d.mu.Unlock()
}
