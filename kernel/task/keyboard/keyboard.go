// Package keyboard exposes the PS/2 keyboard's scancode stream to task
// context. The fill side runs inside the keyboard ISR and must never
// allocate or block; the drain side is an ordinary Task polled by the
// executor.
package keyboard

import (
	"aurora/kernel/kfmt"
	"aurora/kernel/lfq"
	"aurora/kernel/task"
	"sync/atomic"
	"unsafe"
)

// scancodeQueueCapacity bounds how many unconsumed scancodes can be
// buffered. It is a design knob, not a growable structure, for the same
// reason the executor's ready queue is bounded: the fill side must stay
// allocation-free.
const scancodeQueueCapacity = 100

var (
	scancodes *lfq.Ring

	// waker holds a *wakerSlot wrapping the Waker registered by the last
	// Stream.Poll call that found the queue empty, or nil if none is
	// registered. It is updated with an atomic pointer swap so it is safe
	// to take from the ISR and to install from task context concurrently.
	waker unsafe.Pointer
)

type wakerSlot struct {
	w task.Waker
}

// Init prepares the scancode queue. It must be called once, before
// AddScancode can be called from the keyboard ISR.
func Init() {
	scancodes = lfq.NewRing(scancodeQueueCapacity)
}

// AddScancode is called by the keyboard ISR with the raw byte read from
// port 0x60. It never blocks and never allocates: a dropped scancode is
// logged and otherwise ignored, both when the queue has not been
// initialized yet and when it is full.
func AddScancode(b byte) {
	if scancodes == nil {
		kfmt.Printf("[kbd] dropped scancode 0x%2x: queue not initialized\n", b)
		return
	}

	if !scancodes.Push(uint64(b)) {
		kfmt.Printf("[kbd] dropped scancode 0x%2x: queue full\n", b)
		return
	}

	if w := takeWaker(); w != nil {
		w.Wake()
	}
}

// registerWaker installs w as the waker to invoke the next time a scancode
// arrives, replacing whatever was registered before.
func registerWaker(w task.Waker) {
	atomic.StorePointer(&waker, unsafe.Pointer(&wakerSlot{w: w}))
}

// takeWaker atomically removes and returns the registered waker, or nil if
// none is registered. Taking (rather than merely loading) it ensures
// AddScancode only ever wakes a given registration once.
func takeWaker() task.Waker {
	p := atomic.SwapPointer(&waker, nil)
	if p == nil {
		return nil
	}
	return (*wakerSlot)(p).w
}

// Stream drives the scancode queue as a Task that never completes,
// invoking onScancode for every byte it dequeues in arrival order.
type Stream struct {
	onScancode func(byte)
}

// NewStream creates a Stream that reports every dequeued scancode to
// onScancode.
func NewStream(onScancode func(byte)) *Stream {
	return &Stream{onScancode: onScancode}
}

// Poll drains every scancode currently available, reporting each to the
// Stream's callback, then always returns Pending: the stream never
// completes, so the executor will only poll it again once AddScancode
// wakes it up.
func (s *Stream) Poll(w task.Waker) task.PollResult {
	for {
		b, ready := pollScancode(w)
		if !ready {
			return task.Pending
		}
		s.onScancode(b)
	}
}

// pollScancode implements the race-free drain-or-register protocol: pop a
// scancode if one is already queued; otherwise register w and try once
// more, since a scancode may have arrived between the first pop and the
// registration.
func pollScancode(w task.Waker) (byte, bool) {
	if v, ok := scancodes.Pop(); ok {
		return byte(v), true
	}

	registerWaker(w)

	if v, ok := scancodes.Pop(); ok {
		takeWaker()
		return byte(v), true
	}

	return 0, false
}
