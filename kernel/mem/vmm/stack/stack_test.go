package stack

import (
	"aurora/kernel"
	"aurora/kernel/mem/pmm"
	"aurora/kernel/mem/vmm"
	"testing"
)

func mockFrameAllocator() (pmm.Frame, *kernel.Error) {
	return pmm.Frame(0), nil
}

func TestAllocStack(t *testing.T) {
	defer func() { mapFn = vmm.Map }()

	var mappedPages []vmm.Page
	mapFn = func(page vmm.Page, _ pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		if flags&vmm.FlagRW == 0 || flags&vmm.FlagPresent == 0 {
			t.Fatalf("expected stack pages to be mapped present+writable; got flags %v", flags)
		}
		mappedPages = append(mappedPages, page)
		return nil
	}

	alloc := New(vmm.Page(0), vmm.Page(100), mockFrameAllocator)

	s, err := alloc.Alloc(4)
	if err != nil {
		t.Fatal(err)
	}

	if len(mappedPages) != 4 {
		t.Fatalf("expected 4 stack pages to be mapped; got %d", len(mappedPages))
	}

	// page 0 is the guard page and must never be mapped.
	if mappedPages[0] != vmm.Page(1) {
		t.Fatalf("expected first mapped page to skip the guard page; got %v", mappedPages[0])
	}

	if s.Bottom() != vmm.Page(1).Address() {
		t.Fatalf("unexpected stack bottom: got 0x%x", s.Bottom())
	}

	wantTop := vmm.Page(4).Address() + 0x1000
	if s.Top() != wantTop {
		t.Fatalf("unexpected stack top: got 0x%x, want 0x%x", s.Top(), wantTop)
	}

	if s.Top() <= s.Bottom() {
		t.Fatal("expected stack top to be greater than stack bottom")
	}

	// the cursor should have advanced past the guard page and the stack,
	// leaving the next guard page at page 5.
	if alloc.next != vmm.Page(5) {
		t.Fatalf("expected allocator cursor to advance to page 5; got %v", alloc.next)
	}
}

func TestAllocStackZeroPages(t *testing.T) {
	alloc := New(vmm.Page(0), vmm.Page(100), mockFrameAllocator)

	if _, err := alloc.Alloc(0); err != errZeroSizedStack {
		t.Fatalf("expected errZeroSizedStack; got %v", err)
	}
}

func TestAllocStackOutOfSpace(t *testing.T) {
	defer func() { mapFn = vmm.Map }()
	mapFn = func(_ vmm.Page, _ pmm.Frame, _ vmm.PageTableEntryFlag) *kernel.Error {
		return nil
	}

	alloc := New(vmm.Page(0), vmm.Page(4), mockFrameAllocator)

	if _, err := alloc.Alloc(10); err != errOutOfStackSpace {
		t.Fatalf("expected errOutOfStackSpace; got %v", err)
	}

	if alloc.next != vmm.Page(0) {
		t.Fatal("expected cursor to remain untouched after a failed allocation")
	}
}
