package loader

import (
	"testing"

	"github.com/nhdewitt/pico32/internal/physmem"
	"github.com/nhdewitt/pico32/internal/taskmem"
)

func TestAllocateSegmentsPopulatesTable(t *testing.T) {
	var alloc physmem.Allocator
	alloc.AddRegion(physmem.Region{Name: "ram", Base: 0x20000000, Size: 0x20000})

	hdr := Header{
		TextSize: 0x1000, DataSize: 0x20, BSSSize: 0x10,
		GotSize: 0x8, HeapSize: 0x100, StackSize: 0x200, RodataSize: 0x20,
	}

	var table taskmem.Table
	segs, err := AllocateSegments(hdr, 0x08001000, 0x08002000, &alloc, &table)
	if err != nil {
		t.Fatalf("AllocateSegments: %v", err)
	}

	if table.GetStart(taskmem.Text) != 0x08001000 {
		t.Errorf("text segment not recorded correctly")
	}
	if table.GetStart(taskmem.UserData) != segs.DataAddr {
		t.Errorf("data segment table entry does not match allocation")
	}
	if table.GetSize(taskmem.UserStack) < uintptr(hdr.StackSize) {
		t.Errorf("stack segment size rounded down below header size")
	}
}

func TestAllocateSegmentsRollsBackOnFailure(t *testing.T) {
	var alloc physmem.Allocator
	// Small region: enough for data+bss+got+heap but not the stack.
	alloc.AddRegion(physmem.Region{Name: "tiny", Base: 0x1000, Size: 0x300})

	hdr := Header{
		DataSize: 0x20, BSSSize: 0x10, GotSize: 0x8,
		HeapSize: 0x40, StackSize: 0x10000, // too big to fit
	}

	var table taskmem.Table
	if _, err := AllocateSegments(hdr, 0, 0, &alloc, &table); err == nil {
		t.Fatal("expected allocation failure for oversized stack")
	}

	// Everything should have been rolled back: the data segment's block at
	// the region base is free again, so a same-size alloc lands there.
	if addr, err := alloc.Alloc(0x20); err != nil || addr != 0x1000 {
		t.Errorf("expected region reusable after rollback, got addr 0x%x, err %v", addr, err)
	}
}
