// Package stack allocates guarded stack regions out of a contiguous virtual
// page range. It is used to hand out kernel stacks (including the
// interrupt-stack-table entries the double-fault handler needs) without
// letting an overflowing stack silently corrupt its neighbor: every stack is
// preceded by an unmapped guard page that turns an overflow into a page
// fault.
package stack

import (
	"aurora/kernel"
	"aurora/kernel/mem"
	"aurora/kernel/mem/pmm"
	"aurora/kernel/mem/vmm"
)

var (
	errZeroSizedStack  = &kernel.Error{Module: "stack", Message: "cannot allocate a zero-sized stack"}
	errOutOfStackSpace = &kernel.Error{Module: "stack", Message: "stack allocator range exhausted"}

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapFn = vmm.Map
)

// Stack describes the virtual address range reserved for a single stack.
// Top points one byte past the last usable address and is always passed to
// the CPU as the initial stack pointer; bottom is the address of the lowest
// mapped byte. An unmapped guard page sits immediately below bottom.
type Stack struct {
	top    uintptr
	bottom uintptr
}

// Top returns the initial stack pointer value for this stack.
func (s Stack) Top() uintptr {
	return s.top
}

// Bottom returns the address of the lowest mapped byte of this stack.
func (s Stack) Bottom() uintptr {
	return s.bottom
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// Allocator hands out guarded stacks carved out of a contiguous virtual page
// range. Allocation only ever moves forward through the range; stacks are
// never freed back to the allocator.
type Allocator struct {
	next           vmm.Page
	end            vmm.Page
	frameAllocator FrameAllocatorFn
}

// New creates an Allocator that carves stacks out of the page range
// [start, end). The allocator uses allocFrame to back each stack page with
// physical memory.
func New(start, end vmm.Page, allocFrame FrameAllocatorFn) *Allocator {
	return &Allocator{
		next:           start,
		end:            end,
		frameAllocator: allocFrame,
	}
}

// Alloc reserves a guard page followed by n consecutive, WRITABLE-mapped
// stack pages from the allocator's range. It returns an error if n is zero
// or if the remaining range cannot fit the guard page plus the requested
// stack pages; in either case the allocator's cursor is left untouched.
func (a *Allocator) Alloc(n uint) (Stack, *kernel.Error) {
	if n == 0 {
		return Stack{}, errZeroSizedStack
	}

	guardPage := a.next
	stackStart := guardPage + 1
	stackEnd := stackStart + vmm.Page(n) - 1

	if stackEnd >= a.end {
		return Stack{}, errOutOfStackSpace
	}

	for page := stackStart; page <= stackEnd; page++ {
		frame, err := a.frameAllocator()
		if err != nil {
			return Stack{}, err
		}

		if err := mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW); err != nil {
			return Stack{}, err
		}
	}

	a.next = stackEnd + 1

	return Stack{
		top:    stackEnd.Address() + uintptr(mem.PageSize),
		bottom: stackStart.Address(),
	}, nil
}
