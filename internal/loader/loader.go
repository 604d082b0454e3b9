// Package loader parses a user-executable payload's header and prepares
// its segments for execution: allocating RAM, copying data, zeroing BSS,
// and relocating its GOT.
//
// The GOT relocation here fixes a bug in original_source's
// user_exec_program_setup_got_segment: it rewrites a GOT entry as
// `val + segment_base`, which only produces a correct pointer when the
// segment's offset in the payload is 0. This package instead computes
// `segment_base + (val - segment_offset)`, translating the payload-
// relative offset into the segment before adding the segment's
// relocated base — the form spec's own worked load example requires.
package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/nhdewitt/pico32/internal/kernerr"
	"github.com/nhdewitt/pico32/internal/physmem"
	"github.com/nhdewitt/pico32/internal/taskmem"
)

const headerFieldCount = 12
const HeaderSize = headerFieldCount * 4

// Header is the 12-field, little-endian user-program header, offsets
// relative to the start of the payload.
type Header struct {
	TextOffset   uint32
	TextSize     uint32
	GotOffset    uint32
	GotSize      uint32
	BSSOffset    uint32
	BSSSize      uint32
	DataOffset   uint32
	DataSize     uint32
	RodataOffset uint32
	RodataSize   uint32
	HeapSize     uint32
	StackSize    uint32
}

// ParseHeader decodes a Header from the first HeaderSize bytes of
// payload.
func ParseHeader(payload []byte) (Header, error) {
	if len(payload) < HeaderSize {
		return Header{}, fmt.Errorf("loader: payload shorter than header (%d bytes): %w", len(payload), kernerr.ErrInvalidArgs)
	}
	u32 := func(i int) uint32 {
		return binary.LittleEndian.Uint32(payload[i*4 : i*4+4])
	}
	return Header{
		TextOffset:   u32(0),
		TextSize:     u32(1),
		GotOffset:    u32(2),
		GotSize:      u32(3),
		BSSOffset:    u32(4),
		BSSSize:      u32(5),
		DataOffset:   u32(6),
		DataSize:     u32(7),
		RodataOffset: u32(8),
		RodataSize:   u32(9),
		HeapSize:     u32(10),
		StackSize:    u32(11),
	}, nil
}

// Segments holds the physical addresses each segment was allocated (or
// mapped XIP) at, keyed the same way as taskmem.ID so the loader and
// task memory table stay in lockstep.
type Segments struct {
	TextAddr   uintptr
	DataAddr   uintptr
	BSSAddr    uintptr
	RodataAddr uintptr
	GotAddr    uintptr
	HeapAddr   uintptr
	StackAddr  uintptr
}

func isInRange(val, start, size uint32) bool {
	return val >= start && val < start+size
}

// SetupSegments zeroes BSS, copies the data segment in from the flash
// payload, and relocates every GOT entry, classifying each by which
// header-declared range its payload-relative offset falls into. An
// entry that matches no known segment is a fatal load error.
//
// addrs must already have TextAddr/DataAddr/BSSAddr/RodataAddr/GotAddr
// populated (by the caller, which owns the allocation policy — XIP for
// text/rodata, physmem-allocated for data/bss/got) before calling.
func SetupSegments(payload []byte, hdr Header, addrs *Segments, copyToUser func(dst uintptr, src []byte) error, zeroUser func(dst uintptr, size uint32) error) error {
	if int(hdr.DataOffset+hdr.DataSize) > len(payload) {
		return fmt.Errorf("loader: data segment overruns payload: %w", kernerr.ErrInvalidArgs)
	}
	if err := copyToUser(addrs.DataAddr, payload[hdr.DataOffset:hdr.DataOffset+hdr.DataSize]); err != nil {
		return fmt.Errorf("loader: copy data segment: %w", err)
	}

	if err := zeroUser(addrs.BSSAddr, hdr.BSSSize); err != nil {
		return fmt.Errorf("loader: zero bss segment: %w", err)
	}

	if int(hdr.GotOffset+hdr.GotSize) > len(payload) {
		return fmt.Errorf("loader: got segment overruns payload: %w", kernerr.ErrInvalidArgs)
	}
	got := payload[hdr.GotOffset : hdr.GotOffset+hdr.GotSize]
	relocated := make([]byte, len(got))
	for i := uint32(0); i+4 <= hdr.GotSize; i += 4 {
		val := binary.LittleEndian.Uint32(got[i : i+4])

		var newVal uint32
		switch {
		case isInRange(val, hdr.BSSOffset, hdr.BSSSize):
			newVal = uint32(addrs.BSSAddr) + (val - hdr.BSSOffset)
		case isInRange(val, hdr.TextOffset, hdr.TextSize):
			newVal = uint32(addrs.TextAddr) + (val - hdr.TextOffset)
		case isInRange(val, hdr.DataOffset, hdr.DataSize):
			newVal = uint32(addrs.DataAddr) + (val - hdr.DataOffset)
		case isInRange(val, hdr.RodataOffset, hdr.RodataSize):
			newVal = uint32(addrs.RodataAddr) + (val - hdr.RodataOffset)
		default:
			return fmt.Errorf("loader: got entry offset 0x%x matches no segment: %w", val, kernerr.ErrInvalidArgs)
		}
		binary.LittleEndian.PutUint32(relocated[i:i+4], newVal)
	}
	if err := copyToUser(addrs.GotAddr, relocated); err != nil {
		return fmt.Errorf("loader: copy relocated got: %w", err)
	}

	return nil
}

// AllocateSegments reserves RAM for data, bss, got, the user stack and
// heap via alloc, rounds sizes up to a power of two (required for MPU
// region programming), and records every segment — including the
// caller-supplied XIP text/rodata addresses — in table. On any
// allocation failure it releases everything it already allocated and
// returns the original error, per spec §4.6's rollback requirement.
func AllocateSegments(hdr Header, textAddr, rodataAddr uintptr, alloc *physmem.Allocator, table *taskmem.Table) (*Segments, error) {
	var segs Segments
	var allocated []uintptr

	rollback := func(err error) (*Segments, error) {
		alloc.FreeAll(allocated)
		return nil, err
	}

	allocSeg := func(size uint32) (uintptr, error) {
		addr, err := alloc.Alloc(uintptr(size))
		if err != nil {
			return 0, err
		}
		allocated = append(allocated, addr)
		return addr, nil
	}

	var err error
	if segs.DataAddr, err = allocSeg(hdr.DataSize); err != nil {
		return rollback(fmt.Errorf("loader: alloc data segment: %w", err))
	}
	if segs.BSSAddr, err = allocSeg(hdr.BSSSize); err != nil {
		return rollback(fmt.Errorf("loader: alloc bss segment: %w", err))
	}
	if segs.GotAddr, err = allocSeg(hdr.GotSize); err != nil {
		return rollback(fmt.Errorf("loader: alloc got segment: %w", err))
	}
	if segs.HeapAddr, err = allocSeg(hdr.HeapSize); err != nil {
		return rollback(fmt.Errorf("loader: alloc heap segment: %w", err))
	}
	if segs.StackAddr, err = allocSeg(hdr.StackSize); err != nil {
		return rollback(fmt.Errorf("loader: alloc stack segment: %w", err))
	}

	segs.TextAddr = textAddr
	segs.RodataAddr = rodataAddr

	table.Set(taskmem.Text, textAddr, uintptr(physmem.RoundPow2(uintptr(hdr.TextSize))), false)
	table.Set(taskmem.UserRodata, rodataAddr, uintptr(physmem.RoundPow2(uintptr(hdr.RodataSize))), false)
	table.Set(taskmem.UserData, segs.DataAddr, uintptr(physmem.RoundPow2(uintptr(hdr.DataSize))), true)
	table.Set(taskmem.UserBSS, segs.BSSAddr, uintptr(physmem.RoundPow2(uintptr(hdr.BSSSize))), true)
	table.Set(taskmem.UserGOT, segs.GotAddr, uintptr(physmem.RoundPow2(uintptr(hdr.GotSize))), true)
	table.Set(taskmem.UserHeap, segs.HeapAddr, uintptr(physmem.RoundPow2(uintptr(hdr.HeapSize))), true)
	table.Set(taskmem.UserStack, segs.StackAddr, uintptr(physmem.RoundPow2(uintptr(hdr.StackSize))), true)

	return &segs, nil
}
