// Package allocator provides physical frame allocators used to bootstrap
// the kernel's memory management subsystem.
package allocator

import (
	"aurora/kernel"
	"aurora/kernel/hal/multiboot"
	"aurora/kernel/kfmt"
	"aurora/kernel/mem"
	"aurora/kernel/mem/pmm"
)

var (
	// areaAllocator is the single frame allocator used for the entire
	// lifetime of the kernel. There is no follow-up allocator stage:
	// once boot-time regions are exhausted the kernel is out of memory.
	areaAllocator AreaFrameAllocator

	errOutOfFrames = &kernel.Error{Module: "pmm", Message: "out of frames"}
)

// AreaFrameAllocator hands out physical frames by walking the memory
// regions reported by the boot loader. It keeps a single monotonically
// non-decreasing cursor (lastAllocFrame) into the region that currently
// contains it, skipping over the frames occupied by the kernel image and by
// the multiboot info blob itself.
//
// AreaFrameAllocator never reclaims a frame: FreeFrame is a no-op. This is
// sufficient for a kernel that only ever grows its physical footprint
// during boot and tears down a handful of early mappings once, after which
// the frames involved are never needed again.
type AreaFrameAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame pmm.Frame

	// kernelStartFrame/kernelEndFrame bound the frames occupied by the
	// loaded kernel image; they are always skipped.
	kernelStartAddr, kernelEndAddr   uintptr
	kernelStartFrame, kernelEndFrame pmm.Frame

	// mbiStartFrame/mbiEndFrame bound the frames occupied by the
	// multiboot info structure passed in by the boot loader; they are
	// always skipped.
	mbiStartAddr, mbiEndAddr   uintptr
	mbiStartFrame, mbiEndFrame pmm.Frame
}

// init configures the allocator with the physical extents of the kernel
// image and the multiboot info blob. Both ranges are rounded out to whole
// frames before being excluded from allocation.
func (alloc *AreaFrameAllocator) init(kernelStart, kernelEnd, mbiStart, mbiEnd uintptr) {
	pageSizeMinus1 := uintptr(mem.PageSize - 1)

	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd
	alloc.kernelStartFrame = pmm.Frame((kernelStart & ^pageSizeMinus1) >> mem.PageShift)
	alloc.kernelEndFrame = pmm.Frame(((kernelEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mem.PageShift) - 1

	alloc.mbiStartAddr = mbiStart
	alloc.mbiEndAddr = mbiEnd
	alloc.mbiStartFrame = pmm.Frame((mbiStart & ^pageSizeMinus1) >> mem.PageShift)
	alloc.mbiEndFrame = pmm.Frame(((mbiEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mem.PageShift) - 1
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame, skipping over the kernel image
// and the multiboot info blob.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *AreaFrameAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	var err = errOutOfFrames

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable || region.Length < uint64(mem.PageSize) {
			return true
		}

		pageSizeMinus1 := uint64(mem.PageSize - 1)
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length) & ^pageSizeMinus1)>>mem.PageShift) - 1

		// Already past this region.
		if alloc.lastAllocFrame >= regionEndFrame {
			return true
		}

		switch {
		case (alloc.lastAllocFrame <= regionStartFrame && alloc.kernelStartFrame == regionStartFrame) ||
			(alloc.lastAllocFrame <= regionEndFrame && alloc.lastAllocFrame+1 == alloc.kernelStartFrame):
			alloc.lastAllocFrame = alloc.kernelEndFrame + 1
		case (alloc.lastAllocFrame <= regionStartFrame && alloc.mbiStartFrame == regionStartFrame) ||
			(alloc.lastAllocFrame <= regionEndFrame && alloc.lastAllocFrame+1 == alloc.mbiStartFrame):
			alloc.lastAllocFrame = alloc.mbiEndFrame + 1
		case alloc.lastAllocFrame < regionStartFrame || alloc.allocCount == 0:
			alloc.lastAllocFrame = regionStartFrame
		default:
			alloc.lastAllocFrame++
		}

		// Skipping past the kernel/mbi range might push the cursor
		// outside of the current region (e.g. the reserved range
		// ends at the last page of the region).
		if alloc.lastAllocFrame > regionEndFrame {
			return true
		}

		// The frame picked above might itself fall inside the
		// kernel or mbi range (e.g. the region contains both); skip
		// past that range once more and re-check against the same
		// region before moving on.
		switch {
		case alloc.lastAllocFrame >= alloc.kernelStartFrame && alloc.lastAllocFrame <= alloc.kernelEndFrame:
			alloc.lastAllocFrame = alloc.kernelEndFrame + 1
		case alloc.lastAllocFrame >= alloc.mbiStartFrame && alloc.lastAllocFrame <= alloc.mbiEndFrame:
			alloc.lastAllocFrame = alloc.mbiEndFrame + 1
		}

		if alloc.lastAllocFrame > regionEndFrame ||
			(alloc.lastAllocFrame >= alloc.kernelStartFrame && alloc.lastAllocFrame <= alloc.kernelEndFrame) ||
			(alloc.lastAllocFrame >= alloc.mbiStartFrame && alloc.lastAllocFrame <= alloc.mbiEndFrame) {
			return true
		}

		err = nil
		return false
	})

	if err != nil {
		return pmm.InvalidFrame, errOutOfFrames
	}

	alloc.allocCount++
	return alloc.lastAllocFrame, nil
}

// FreeFrame returns a frame to the allocator. The initial implementation
// never reclaims frames: the only frames ever freed are the handful
// released while tearing down the identity-mapped boot page tables, and
// leaking those is an acceptable tradeoff for the allocator's simplicity.
func (alloc *AreaFrameAllocator) FreeFrame(_ pmm.Frame) {}

// printMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *AreaFrameAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mem.Kb))
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartAddr, alloc.kernelEndAddr)
	kfmt.Printf("[pmm] mbi loaded at 0x%x - 0x%x\n", alloc.mbiStartAddr, alloc.mbiEndAddr)
}

// Init sets up the kernel's physical memory allocation sub-system and
// registers it as the frame allocator used by the rest of the kernel.
func Init(kernelStart, kernelEnd, mbiStart, mbiEnd uintptr) {
	areaAllocator.init(kernelStart, kernelEnd, mbiStart, mbiEnd)
	areaAllocator.printMemoryMap()
}

// AllocFrame allocates a frame using the singleton AreaFrameAllocator. It is
// registered with the vmm package via vmm.SetFrameAllocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return areaAllocator.AllocFrame()
}

// FreeFrame is a no-op; see AreaFrameAllocator.FreeFrame.
func FreeFrame(f pmm.Frame) {
	areaAllocator.FreeFrame(f)
}
