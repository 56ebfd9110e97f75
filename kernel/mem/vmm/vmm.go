package vmm

import (
	"aurora/kernel"
	"aurora/kernel/cpu"
	"aurora/kernel/hal/multiboot"
	"aurora/kernel/irq"
	"aurora/kernel/kfmt"
	"aurora/kernel/mem"
	"aurora/kernel/mem/pmm"
	"unsafe"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2
	translateFn               = Translate
	visitElfSectionsFn        = multiboot.VisitElfSections
	multibootInfoExtentsFn    = multiboot.InfoExtents

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = PageFromAddress(faultAddress)
		pageEntry    *pageTableEntry
	)

	// Lookup entry for the page where the fault occurred
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		var (
			copy    pmm.Frame
			tmpPage Page
			err     *kernel.Error
		)

		if copy, err = frameAllocator(); err != nil {
			nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
		} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
			nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
		} else {
			// Copy page contents, mark as RW and remove CoW flag
			mem.Memcopy(faultPage.Address(), tmpPage.Address(), mem.PageSize)
			unmapFn(tmpPage)

			// Update mapping to point to the new frame, flag it as RW and
			// remove the CoW flag
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagPresent | FlagRW)
			pageEntry.SetFrame(copy)
			flushTLBEntryFn(faultPage.Address())

			// Fault recovered; retry the instruction that caused the fault
			return
		}
	}

	nonRecoverablePageFault(faultAddress, errorCode, frame, regs, errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint64, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == 1:
		kfmt.Printf("page protection violation (read)")
	case errorCode == 2:
		kfmt.Printf("write to non-present page")
	case errorCode == 3:
		kfmt.Printf("page protection violation (write)")
	case errorCode == 4:
		kfmt.Printf("page-fault in user-mode")
	case errorCode == 8:
		kfmt.Printf("page table has reserved bit set")
	case errorCode == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	// TODO: Revisit this when user-mode tasks are implemented
	panic(err)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	// TODO: Revisit this when user-mode tasks are implemented
	panic(errUnrecoverableFault)
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests.
func reserveZeroedFrame() *kernel.Error {
	var (
		err      *kernel.Error
		tempPage Page
	)

	if ReservedZeroedFrame, err = frameAllocator(); err != nil {
		return err
	} else if tempPage, err = mapTemporaryFn(ReservedZeroedFrame); err != nil {
		return err
	}
	mem.Memset(tempPage.Address(), 0, mem.PageSize)
	unmapFn(tempPage)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}

// vgaTextFramebufferPhysAddr is the physical address of the standard VGA
// text-mode framebuffer. The remapper identity-maps it unconditionally so
// early diagnostics keep working across the CR3 switch, independent of
// whatever virtual address a console driver later reserves for its own use.
const vgaTextFramebufferPhysAddr = 0xb8000

// Init re-establishes the kernel's page tables: it builds a fresh, granular
// page directory off to the side (the running one is left untouched until
// the very last step) and then atomically switches to it.
func Init() *kernel.Error {
	if err := remapKernel(); err != nil {
		return err
	}

	if err := reserveZeroedFrame(); err != nil {
		return err
	}

	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}

// remapKernel builds a new page directory table and populates it with
// identity mappings (page number == frame number) for every allocated ELF
// section of the kernel image, the VGA text framebuffer and the multiboot
// info blob, then switches CR3 to it. The table is edited entirely through
// the temporary recursive self-map swap performed by PageDirectoryTable.Map,
// so the currently running mapping is never disturbed until the final
// activation.
func remapKernel() *kernel.Error {
	var pdt PageDirectoryTable

	// Allocate and initialize the frame that will back the new table.
	pdtFrame, err := frameAllocator()
	if err != nil {
		return err
	}

	if err = pdt.Init(pdtFrame); err != nil {
		return err
	}

	// Record the frame backing the table that is still active so its
	// identity page can be torn down once the switch below lands.
	oldPdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)

	if err = identityMapElfSections(&pdt); err != nil {
		return err
	}

	if err = pdt.Map(PageFromAddress(vgaTextFramebufferPhysAddr), pmm.Frame(vgaTextFramebufferPhysAddr>>mem.PageShift), FlagPresent|FlagRW); err != nil {
		return err
	}

	if err = identityMapMultibootInfo(&pdt); err != nil {
		return err
	}

	// Ensure that any pages mapped by the memory allocator using
	// EarlyReserveRegion are copied to the new page directory.
	for rsvAddr := earlyReserveLastUsed; rsvAddr < tempMappingAddr; rsvAddr += uintptr(mem.PageSize) {
		page := PageFromAddress(rsvAddr)

		frameAddr, err := translateFn(rsvAddr)
		if err != nil {
			return err
		}

		if err = pdt.Map(page, pmm.Frame(frameAddr>>mem.PageShift), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	// Activate the new PDT. After this point the old table is no longer
	// referenced by the running mapping at all.
	pdt.Activate()

	// The old table's frame was identity-accessible under the table we just
	// abandoned (the boot trampoline's bootstrap tables sit inside the
	// kernel image). Tearing its mapping down under the new table turns it
	// into a guard gap that catches a stack overflowing into it; if the new,
	// narrower mapping never covered that frame to begin with there is
	// nothing to tear down.
	_ = unmapFn(PageFromAddress(oldPdtFrame.Address()))

	return nil
}

// identityMapElfSections queries the multiboot package for the ELF sections
// that correspond to the loaded kernel image and identity-maps each
// allocated one using flags derived from the section (NX unless executable,
// RW if writable).
func identityMapElfSections(pdt *PageDirectoryTable) *kernel.Error {
	var err *kernel.Error

	var visitor = func(_ string, secFlags multiboot.ElfSectionFlag, secAddress uintptr, secSize uint64) {
		// Bail out if we have encountered an error; also skip sections
		// that are not actually loaded into memory.
		if err != nil || (secFlags&multiboot.ElfSectionAllocated) == 0 {
			return
		}

		flags := FlagPresent

		if (secFlags & multiboot.ElfSectionExecutable) == 0 {
			flags |= FlagNoExecute
		}

		if (secFlags & multiboot.ElfSectionWritable) != 0 {
			flags |= FlagRW
		}

		// Identity-map every page the section spans: the frame number
		// equals the page number.
		curPage := PageFromAddress(secAddress)
		lastPage := PageFromAddress(secAddress + uintptr(secSize-1))
		for ; curPage <= lastPage; curPage++ {
			if err = pdt.Map(curPage, pmm.Frame(curPage), flags); err != nil {
				return
			}
		}
	}

	// Use the noescape hack to prevent the compiler from leaking the visitor
	// function literal to the heap.
	visitElfSectionsFn(
		*(*multiboot.ElfSectionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)

	return err
}

// identityMapMultibootInfo identity-maps (PRESENT only, read-only) the
// physical range occupied by the multiboot info blob so code running under
// the new table can keep consulting it.
func identityMapMultibootInfo(pdt *PageDirectoryTable) *kernel.Error {
	start, end := multibootInfoExtentsFn()
	if end <= start {
		return nil
	}

	firstPage := PageFromAddress(start)
	lastPage := PageFromAddress(end - 1)

	for page := firstPage; page <= lastPage; page++ {
		if err := pdt.Map(page, pmm.Frame(page), FlagPresent); err != nil {
			return err
		}
	}

	return nil
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
