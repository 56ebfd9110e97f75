// Package heap implements a first-fit, free-list byte allocator over a
// fixed virtual memory region.
//
// Unlike the allocations the Go runtime itself performs (bootstrapped by
// the goruntime package), allocations made through this package are never
// touched by the garbage collector: the backing memory is plain mapped
// pages, not a Go-managed span. This makes it the allocator of choice for
// any data structure that an interrupt handler writes to, since handlers
// must not allocate through the Go runtime (doing so could reenter the
// scheduler or the collector while interrupts are disabled).
package heap

import (
	"aurora/kernel"
	"aurora/kernel/sync"
	"unsafe"
)

// node is the header stored in-place at the start of every free region.
// Its own size and alignment requirements dictate the minimum size and
// alignment of every region tracked by the allocator, since a region must
// always be large enough to host a header when it is later freed.
type node struct {
	size uintptr
	next uintptr
}

const (
	nodeSize  = unsafe.Sizeof(node{})
	nodeAlign = unsafe.Alignof(node{})
)

func nodeAt(addr uintptr) *node {
	return (*node)(unsafe.Pointer(addr))
}

func (n *node) startAddr() uintptr { return uintptr(unsafe.Pointer(n)) }
func (n *node) endAddr() uintptr   { return n.startAddr() + n.size }

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// sizeAlign pads size and align so that the resulting region is always
// capable of storing a node header once it is freed.
func sizeAlign(size, align uintptr) (uintptr, uintptr) {
	if align < nodeAlign {
		align = nodeAlign
	}
	size = alignUp(size, nodeAlign)
	if size < nodeSize {
		size = nodeSize
	}
	return size, align
}

// Allocator is a locked first-fit free-list allocator. The zero value is an
// empty allocator; call Init before using it.
type Allocator struct {
	lock sync.Spinlock
	head node
}

// Init seeds the allocator with a single free region spanning
// [start, start+size). The caller must ensure that the region is otherwise
// unused and that Init is called at most once.
func (a *Allocator) Init(start, size uintptr) {
	a.lock.Acquire()
	a.addFreeRegion(start, size)
	a.lock.Release()
}

// addFreeRegion links a new free region at the head of the list. The caller
// must already hold a.lock.
func (a *Allocator) addFreeRegion(addr, size uintptr) {
	addr = alignUp(addr, nodeAlign)

	n := nodeAt(addr)
	n.size = size
	n.next = a.head.next
	a.head.next = addr
}

// allocFromRegion checks whether n can satisfy an allocation of size bytes
// aligned to align, returning the address the allocation would start at.
// The remaining bytes in the region (after the allocation) must be either
// zero or large enough to host a node header, otherwise the region is
// rejected even though it is nominally large enough: the residual space
// would be unrecoverable.
func allocFromRegion(n *node, size, align uintptr) (uintptr, bool) {
	allocStart := alignUp(n.startAddr(), align)
	allocEnd := allocStart + size
	if allocEnd < allocStart || allocEnd > n.endAddr() {
		return 0, false
	}

	remaining := n.endAddr() - allocEnd
	if remaining > 0 && remaining < nodeSize {
		return 0, false
	}

	return allocStart, true
}

// Alloc reserves size bytes aligned to align and returns the start address
// of the allocation, or 0 if the request cannot be satisfied.
func (a *Allocator) Alloc(size, align uintptr) uintptr {
	size, align = sizeAlign(size, align)

	a.lock.Acquire()
	defer a.lock.Release()

	prev := &a.head
	for cur := a.head.next; cur != 0; {
		curNode := nodeAt(cur)

		if allocStart, ok := allocFromRegion(curNode, size, align); ok {
			next := curNode.next
			allocEnd := allocStart + size
			remaining := curNode.endAddr() - allocEnd

			prev.next = next

			if remaining > 0 {
				a.addFreeRegion(allocEnd, remaining)
			}

			return allocStart
		}

		prev = curNode
		cur = curNode.next
	}

	return 0
}

// Free returns a previously allocated block back to the free list. The size
// and align arguments must match the ones passed to the Alloc call that
// produced ptr. Freed regions are not coalesced with their neighbors.
func (a *Allocator) Free(ptr, size, align uintptr) {
	size, _ = sizeAlign(size, align)

	a.lock.Acquire()
	a.addFreeRegion(ptr, size)
	a.lock.Release()
}

var (
	heapAllocator Allocator

	errOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}
)

// Init seeds the package-level heap allocator with a single free region
// spanning [start, start+size).
func Init(start, size uintptr) {
	heapAllocator.Init(start, size)
}

// Alloc reserves size bytes aligned to align from the package-level heap
// allocator.
func Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if addr := heapAllocator.Alloc(size, align); addr != 0 {
		return addr, nil
	}
	return 0, errOutOfMemory
}

// Free returns a block previously obtained via Alloc back to the
// package-level heap allocator.
func Free(ptr, size, align uintptr) {
	heapAllocator.Free(ptr, size, align)
}
