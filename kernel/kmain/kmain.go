// Package kmain wires together every subsystem and hands control to the
// task executor. It is the Go-land counterpart of the assembly rt0 code
// that sets up a minimal stack and jumps here with the multiboot info
// pointer the bootloader left behind.
package kmain

import (
	"aurora/device/qemuexit"
	"aurora/kernel"
	"aurora/kernel/cpu"
	"aurora/kernel/goruntime"
	"aurora/kernel/hal"
	"aurora/kernel/hal/multiboot"
	"aurora/kernel/irq"
	"aurora/kernel/kfmt"
	"aurora/kernel/mem"
	"aurora/kernel/mem/heap"
	"aurora/kernel/mem/pmm/allocator"
	"aurora/kernel/mem/vmm"
	"aurora/kernel/mem/vmm/stack"
	"aurora/kernel/task"
	"aurora/kernel/task/keyboard"

	_ "aurora/device/acpi"
	_ "aurora/device/serial"
)

const (
	// heapSize is the amount of virtual memory reserved for the kernel
	// heap allocator.
	heapSize = 4 * mem.Mb

	// istStackPages is the number of 4 KiB pages reserved (beyond the
	// leading guard page) for the double-fault IST stack.
	istStackPages = 4
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain brings up the kernel: physical/virtual memory management, the
// interrupt dispatcher, the Go runtime's own allocator, and finally the
// task executor, which it hands control to for good. Kmain never returns
// under normal operation.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.DetectHardware()
	kfmt.Printf("starting aurora\n")

	kernelStart, kernelEnd := multiboot.KernelImageExtents()
	mbiStart, mbiEnd := multiboot.InfoExtents()
	allocator.Init(kernelStart, kernelEnd, mbiStart, mbiEnd)

	vmm.SetFrameAllocator(allocator.AllocFrame)
	if err := vmm.Init(); err != nil {
		panic(err)
	}

	stacks := setupStackAllocator()
	setupDoubleFaultStack(stacks)
	setupHeap()

	if err := goruntime.Init(); err != nil {
		panic(err)
	}

	keyboard.Init()
	ex := task.New()
	ex.Spawn(task.NewID(), keyboard.NewStream(onScancode))

	irq.RemapPIC()
	irq.HandleIRQ(irq.TimerIRQ, timerHandler)
	irq.HandleIRQ(irq.KeyboardIRQ, keyboardHandler)
	cpu.EnableInterrupts()

	ex.Run()

	panic(errKmainReturned)
}

// setupStackAllocator reserves a large virtual page range for kernel
// stacks. The range is only reserved, not mapped: the stack allocator maps
// each stack's pages on demand and leaves its guard page unmapped.
func setupStackAllocator() *stack.Allocator {
	const stackRegionSize = 16 * mem.Mb

	regionStart, err := vmm.EarlyReserveRegion(stackRegionSize)
	if err != nil {
		panic(err)
	}

	startPage := vmm.PageFromAddress(regionStart)
	endPage := startPage + vmm.Page(stackRegionSize>>mem.PageShift)

	return stack.New(startPage, endPage, allocator.AllocFrame)
}

// setupDoubleFaultStack carves the dedicated IST stack the double-fault
// handler runs on out of stacks, installs it, and registers the handler.
func setupDoubleFaultStack(stacks *stack.Allocator) {
	istStack, err := stacks.Alloc(istStackPages)
	if err != nil {
		panic(err)
	}

	irq.SetDoubleFaultStack(istStack.Top())
	irq.HandleExceptionWithCode(irq.DoubleFault, doubleFaultHandler)
}

// setupHeap reserves and maps a fixed-size virtual region and hands it to
// the kernel heap allocator. Unlike the stack region, every page here is
// mapped up front: the heap's free-list header lives directly in this
// memory and must be readable/writable as soon as a region is added to the
// free list.
func setupHeap() {
	regionStart, err := vmm.EarlyReserveRegion(heapSize)
	if err != nil {
		panic(err)
	}

	pageCount := heapSize >> mem.PageShift
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
	for page := vmm.PageFromAddress(regionStart); pageCount > 0; pageCount-- {
		frame, ferr := allocator.AllocFrame()
		if ferr != nil {
			panic(ferr)
		}
		if merr := vmm.Map(page, frame, flags); merr != nil {
			panic(merr)
		}
		page++
	}

	heap.Init(regionStart, uintptr(heapSize))
}

// onScancode is the keyboard stream's callback. Decoding scancodes into
// characters is left to a higher layer; the core only needs to prove that
// input reaches task context without being dropped or reordered.
func onScancode(b byte) {
	kfmt.Printf("[kbd] scancode: 0x%2x\n", b)
}

var (
	inbFn            = cpu.Inb
	endOfInterruptFn = irq.EndOfInterrupt
	addScancodeFn    = keyboard.AddScancode
)

// timerHandler is deliberately a no-op beyond acknowledging the interrupt:
// the core has no timekeeping or preemption to drive from it yet.
func timerHandler(_ *irq.Frame, _ *irq.Regs) {
	endOfInterruptFn(irq.TimerIRQ)
}

const keyboardDataPort = 0x60

// keyboardHandler reads the pending scancode off the PS/2 controller and
// hands it to the keyboard stream before acknowledging the interrupt. It
// must not allocate: AddScancode only ever pushes to a pre-allocated
// bounded queue.
func keyboardHandler(_ *irq.Frame, _ *irq.Regs) {
	scancode := inbFn(keyboardDataPort)
	addScancodeFn(scancode)
	endOfInterruptFn(irq.KeyboardIRQ)
}

// doubleFaultHandler prints diagnostics and halts forever. A double fault
// is unrecoverable: there is no third stack to fall back to if this one
// also faults.
func doubleFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\n*** double fault (code=%d) ***\n", errorCode)
	regs.Print()
	frame.Print()
	qemuexit.Exit(qemuexit.Failure)
	kfmt.Panic(errKmainReturned)
}
