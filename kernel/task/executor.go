// Package task implements a single-hart, cooperative async task executor.
// There is no preemption: a task only yields at an explicit poll boundary,
// and the executor only suspends at its idle point between drains of the
// ready queue.
package task

import (
	"aurora/kernel"
	"aurora/kernel/cpu"
	"aurora/kernel/lfq"
	"sync/atomic"
)

// readyQueueCapacity bounds the number of tasks that may be simultaneously
// runnable. It is a fixed design knob rather than a growable structure: a
// kernel this size never expects to juggle more than a handful of
// concurrently-woken tasks, and a bounded queue lets push stay allocation
// free so it can be called from interrupt context.
const readyQueueCapacity = 100

var (
	errDuplicateTask  = &kernel.Error{Module: "task", Message: "task with the same id is already registered"}
	errReadyQueueFull = &kernel.Error{Module: "task", Message: "ready queue is full"}

	nextID uint64
)

// ID identifies a spawned task.
type ID uint64

// NewID returns a fresh, never-before-used task id.
func NewID() ID {
	return ID(atomic.AddUint64(&nextID, 1) - 1)
}

// PollResult is returned by Task.Poll to report whether the task has run to
// completion.
type PollResult uint8

const (
	// Pending indicates the task is not yet done; it will call Wake on the
	// Waker it was polled with once it is ready to make more progress.
	Pending PollResult = iota

	// Ready indicates the task has run to completion and can be dropped.
	Ready
)

// Waker lets a suspended task ask the executor to poll it again.
type Waker interface {
	Wake()
}

// Task is a cooperatively scheduled unit of work. Poll is called with a
// Waker that the task may stash away (e.g. handing it to the keyboard
// stream) before returning Pending.
type Task interface {
	Poll(w Waker) PollResult
}

// taskWaker is the concrete Waker handed to tasks. It closes over the id it
// belongs to and a handle to the shared ready queue rather than the
// executor itself, so tasks and wakers never hold a reference back to the
// executor.
type taskWaker struct {
	id    ID
	ready *lfq.Ring
}

// Wake re-enqueues the task's id onto the ready queue. It is safe to call
// from interrupt context: the ready queue push is lock-free and
// allocation-free.
func (w *taskWaker) Wake() {
	if !w.ready.Push(uint64(w.id)) {
		panic(errReadyQueueFull)
	}
}

// Executor owns the set of spawned tasks and drives them to completion.
type Executor struct {
	tasks  map[ID]Task
	wakers map[ID]*taskWaker
	ready  *lfq.Ring
}

// New creates an Executor with an empty ready queue.
func New() *Executor {
	return &Executor{
		tasks:  make(map[ID]Task),
		wakers: make(map[ID]*taskWaker),
		ready:  lfq.NewRing(readyQueueCapacity),
	}
}

// Spawn registers t under id and marks it immediately runnable. It panics
// if id is already in use or if the ready queue is full, both of which
// indicate a programming error rather than a recoverable condition.
func (e *Executor) Spawn(id ID, t Task) {
	if _, exists := e.tasks[id]; exists {
		panic(errDuplicateTask)
	}

	e.tasks[id] = t
	if !e.ready.Push(uint64(id)) {
		panic(errReadyQueueFull)
	}
}

// Run drains the ready queue, polling every runnable task, and idles until
// the next interrupt whenever the queue empties out. It never returns.
func (e *Executor) Run() {
	for {
		e.runReady()
		e.sleepOnIdle()
	}
}

// runReady polls every task currently sitting in the ready queue exactly
// once. Tasks that report Ready are dropped along with their waker; tasks
// that report Pending are expected to re-enqueue themselves later via the
// waker they were polled with.
func (e *Executor) runReady() {
	for {
		raw, ok := e.ready.Pop()
		if !ok {
			return
		}

		id := ID(raw)
		t, exists := e.tasks[id]
		if !exists {
			// The task already completed and was removed; a stale wake
			// arrived after the fact. Nothing to do.
			continue
		}

		w, exists := e.wakers[id]
		if !exists {
			w = &taskWaker{id: id, ready: e.ready}
			e.wakers[id] = w
		}

		if t.Poll(w) == Ready {
			delete(e.tasks, id)
			delete(e.wakers, id)
		}
	}
}

// sleepOnIdle halts the CPU until the next interrupt if the ready queue is
// still empty once interrupts are disabled. Disabling interrupts first and
// re-checking emptiness closes the race where a wake could otherwise arrive
// between the check and the halt and be lost: EnableInterruptsAndHalt
// re-enables interrupts and halts as a single step, so any interrupt that
// fires after the check is guaranteed to be the one that wakes the halt.
func (e *Executor) sleepOnIdle() {
	cpu.DisableInterrupts()
	if e.ready.Empty() {
		cpu.EnableInterruptsAndHalt()
		return
	}
	cpu.EnableInterrupts()
}
