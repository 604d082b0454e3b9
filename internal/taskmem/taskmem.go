// Package taskmem tracks the physical memory segments that make up one
// task's address space and composes them into an MPU region table.
//
// A task's memory is not a flat heap: it is eight fixed-purpose segments
// (text, kernel stack, user stack, user heap, user BSS, user data, user
// rodata, user GOT), each with its own base/size and an access-rights
// class the MPU enforces. This mirrors original_source's task_mem.c,
// renamed from its "BSS" id0 (a leftover from an earlier single-segment
// design) to Text, which is what id0 has held since the loader existed.
package taskmem

import (
	"fmt"

	"github.com/nhdewitt/pico32/internal/kernerr"
	"github.com/nhdewitt/pico32/internal/physmem"
	"github.com/nhdewitt/pico32/internal/platform"
)

// ID names one of the eight fixed task memory segments.
type ID int

const (
	Text ID = iota
	KernelStack
	UserStack
	UserHeap
	UserBSS
	UserData
	UserRodata
	UserGOT

	numSegments = int(UserGOT) + 1
)

func (id ID) String() string {
	switch id {
	case Text:
		return "text"
	case KernelStack:
		return "kernel-stack"
	case UserStack:
		return "user-stack"
	case UserHeap:
		return "user-heap"
	case UserBSS:
		return "user-bss"
	case UserData:
		return "user-data"
	case UserRodata:
		return "user-rodata"
	case UserGOT:
		return "user-got"
	default:
		return "unknown"
	}
}

type segment struct {
	base    uintptr
	size    uintptr
	dynamic bool
	set     bool
}

// Table is one task's memory segment table.
type Table struct {
	segs [numSegments]segment
}

// Set records a segment's physical location. isDynamic marks whether it
// was obtained from physmem (and must therefore be Free'd by Cleanup) as
// opposed to being statically or externally owned (e.g. flash XIP text).
func (t *Table) Set(id ID, base, size uintptr, isDynamic bool) {
	t.segs[id] = segment{base: base, size: size, dynamic: isDynamic, set: true}
}

// GetStart returns the physical base address of segment id.
func (t *Table) GetStart(id ID) uintptr { return t.segs[id].base }

// GetSize returns the size in bytes of segment id.
func (t *Table) GetSize(id ID) uintptr { return t.segs[id].size }

// Cleanup releases every segment that was marked dynamic back to alloc.
// It is called during task reap; segments never set or not dynamic
// (static kernel stacks, flash-resident text/rodata) are left alone.
func (t *Table) Cleanup(alloc *physmem.Allocator) error {
	for id := range t.segs {
		s := &t.segs[id]
		if !s.set || !s.dynamic {
			continue
		}
		if err := alloc.Free(s.base); err != nil {
			return fmt.Errorf("taskmem: free segment %s: %w", ID(id), err)
		}
		s.set = false
	}
	return nil
}

// access describes the MPU access-rights class for a segment, per
// spec §4.6: text is execute-only/read-only to unprivileged code; the
// user stack/heap/BSS/data are read-write, no-execute; GOT and rodata
// are read-only, no-execute.
func access(id ID) (executable, writable bool) {
	switch id {
	case Text:
		return true, false
	case KernelStack:
		return false, true
	case UserStack, UserHeap, UserBSS, UserData:
		return false, true
	case UserRodata, UserGOT:
		return false, false
	default:
		return false, false
	}
}

// SetupMPU composes the segment table into a platform MPU region table.
// Every set segment must already be power-of-two sized and aligned to
// that size, and at least as large as the platform's minimum MPU region
// size; SetupMPU returns kernerr.ErrInvalidArgs on the first segment that
// fails any of these checks rather than program a partially-valid table.
func SetupMPU(t *Table, adapter platform.Adapter) (*platform.MPUTable, error) {
	min := adapter.MPUMinRegionSize()

	var mt platform.MPUTable
	adapter.MPUTableInit(&mt)

	idx := 0
	for id := 0; id < numSegments; id++ {
		s := t.segs[id]
		if !s.set || s.size == 0 {
			continue
		}
		if s.size < min {
			return nil, fmt.Errorf("taskmem: segment %s size 0x%x below MPU minimum 0x%x: %w", ID(id), s.size, min, kernerr.ErrInvalidArgs)
		}
		if s.size&(s.size-1) != 0 {
			return nil, fmt.Errorf("taskmem: segment %s size 0x%x is not a power of two: %w", ID(id), s.size, kernerr.ErrInvalidArgs)
		}
		if s.base%s.size != 0 {
			return nil, fmt.Errorf("taskmem: segment %s base 0x%x not aligned to size 0x%x: %w", ID(id), s.base, s.size, kernerr.ErrInvalidArgs)
		}

		exec, write := access(ID(id))
		userAccess := ID(id) != KernelStack
		adapter.MPUTableSet(&mt, idx, platform.MPURegion{
			Base:       s.base,
			Size:       s.size,
			Executable: exec,
			Writable:   write,
			UserAccess: userAccess,
		})
		idx++
	}

	if err := adapter.MPUTableProgram(&mt); err != nil {
		return nil, fmt.Errorf("taskmem: program MPU table: %w", err)
	}
	return &mt, nil
}
