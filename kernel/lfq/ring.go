// Package lfq implements a bounded, lock-free multi-producer
// single-consumer queue of machine words. It backs both the task
// executor's ready queue and the keyboard scancode queue: both are pushed
// to from interrupt context (the keyboard ISR pushes a scancode and, through
// the registered waker, a task id) and drained from a single place, so push
// must never block or touch the Go allocator.
package lfq

import "sync/atomic"

type cell struct {
	sequence uint64
	value    uint64
}

// Ring is a bounded MPSC queue of uint64 values, sized at construction and
// never resized. The algorithm is Dmitry Vyukov's bounded MPMC array queue;
// only the single-consumer half is exercised here, but the push side
// tolerates any number of concurrent producers, which is what interrupt
// handlers racing with task context need.
type Ring struct {
	buffer     []cell
	capacity   uint64
	enqueuePos uint64
	dequeuePos uint64
}

// NewRing creates a Ring that can hold up to capacity entries.
func NewRing(capacity uint64) *Ring {
	r := &Ring{
		buffer:   make([]cell, capacity),
		capacity: capacity,
	}
	for i := range r.buffer {
		r.buffer[i].sequence = uint64(i)
	}
	return r
}

// Push enqueues v, returning false without blocking if the queue is full.
func (r *Ring) Push(v uint64) bool {
	pos := atomic.LoadUint64(&r.enqueuePos)
	for {
		c := &r.buffer[pos%r.capacity]
		seq := atomic.LoadUint64(&c.sequence)

		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.enqueuePos, pos, pos+1) {
				c.value = v
				atomic.StoreUint64(&c.sequence, pos+1)
				return true
			}
		case diff < 0:
			return false
		default:
			pos = atomic.LoadUint64(&r.enqueuePos)
		}
	}
}

// Empty reports whether the queue looked empty at the time of the call. It
// is a heuristic, not a synchronization point: a concurrent Push can make it
// stale immediately after it returns, which is exactly why callers such as
// the executor's idle check pair it with disabled interrupts rather than
// relying on it alone.
func (r *Ring) Empty() bool {
	return atomic.LoadUint64(&r.dequeuePos) == atomic.LoadUint64(&r.enqueuePos)
}

// Pop dequeues the oldest entry, returning false if the queue is empty.
// Only a single goroutine/context may call Pop at a time.
func (r *Ring) Pop() (uint64, bool) {
	pos := atomic.LoadUint64(&r.dequeuePos)
	for {
		c := &r.buffer[pos%r.capacity]
		seq := atomic.LoadUint64(&c.sequence)

		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.dequeuePos, pos, pos+1) {
				v := c.value
				atomic.StoreUint64(&c.sequence, pos+r.capacity)
				return v, true
			}
		case diff < 0:
			return 0, false
		default:
			pos = atomic.LoadUint64(&r.dequeuePos)
		}
	}
}
