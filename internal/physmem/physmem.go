// Package physmem implements the kernel's physical memory allocator: a
// bump allocator over a set of registered address ranges, rounding every
// allocation up to a power of two so the result is usable directly as an
// MPU region (spec §4.6 requires MPU regions be power-of-two sized and
// naturally aligned).
//
// There is no free-list coalescing here. Tasks are torn down and their
// segments released back to the pool (Free), but the allocator does not
// attempt to merge adjacent free blocks — original_source's physmem.c
// was a stub; spec §4.6 only requires alloc/free/rollback-on-partial-
// failure, not a general-purpose heap.
package physmem

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/nhdewitt/pico32/internal/kernerr"
)

// Region describes one contiguous range of physical address space the
// allocator may hand out memory from (e.g. SRAM, or a CCM bank).
type Region struct {
	Name string
	Base uintptr
	Size uintptr
}

type block struct {
	base uintptr
	size uintptr
	used bool
}

// Allocator is a bump/region allocator over one or more registered
// Regions. The zero value is ready to use once at least one Region has
// been added with AddRegion.
type Allocator struct {
	mu      sync.Mutex
	regions []Region
	blocks  map[uintptr][]*block // per-region base -> free/used block list, address order
}

// AddRegion registers a range of physical memory the allocator may carve
// allocations from. It takes the allocator's lock, so regions may be
// added at any time, including while other goroutines call Alloc/Free.
func (a *Allocator) AddRegion(r Region) error {
	if r.Size == 0 {
		return kernerr.ErrInvalidArgs
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blocks == nil {
		a.blocks = make(map[uintptr][]*block)
	}
	a.regions = append(a.regions, r)
	a.blocks[r.Base] = []*block{{base: r.Base, size: r.Size}}
	return nil
}

// RoundPow2 rounds n up to the next power of two. RoundPow2(0) is 1.
func RoundPow2(n uintptr) uintptr {
	if n <= 1 {
		return 1
	}
	l := bits.Len(uint(n - 1))
	return uintptr(1) << uint(l)
}

// Alloc reserves size bytes (rounded up to a power of two, and aligned to
// that same power of two) somewhere in a registered region, and returns
// the base address of the reservation. It returns kernerr.ErrNoMem if no
// registered region has a large-enough, correctly aligned free block.
func (a *Allocator) Alloc(size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, kernerr.ErrInvalidArgs
	}
	want := RoundPow2(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.regions {
		list := a.blocks[r.Base]
		for i, b := range list {
			if b.used || b.size < want {
				continue
			}
			alignedBase := alignUp(b.base, want)
			slack := alignedBase - b.base
			if slack+want > b.size {
				continue
			}
			newList := list[:i:i]
			if slack > 0 {
				newList = append(newList, &block{base: b.base, size: slack})
			}
			used := &block{base: alignedBase, size: want, used: true}
			newList = append(newList, used)
			rem := b.size - slack - want
			if rem > 0 {
				newList = append(newList, &block{base: alignedBase + want, size: rem})
			}
			newList = append(newList, list[i+1:]...)
			a.blocks[r.Base] = newList
			return alignedBase, nil
		}
	}
	return 0, kernerr.ErrNoMem
}

// Free releases a block previously returned by Alloc. Freeing an address
// not currently allocated returns kernerr.ErrInvalidArgs. Adjacent free
// blocks are not coalesced.
func (a *Allocator) Free(addr uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.regions {
		list := a.blocks[r.Base]
		for _, b := range list {
			if b.used && b.base == addr {
				b.used = false
				return nil
			}
		}
	}
	return kernerr.ErrInvalidArgs
}

// FreeAll releases every block in addrs, stopping at the first error.
// It is used by task loading to roll back a partially-completed set of
// segment allocations: if the Nth segment alloc fails, the caller passes
// the first N-1 successfully allocated addresses here before returning
// the original error.
func (a *Allocator) FreeAll(addrs []uintptr) error {
	for _, addr := range addrs {
		if err := a.Free(addr); err != nil {
			return fmt.Errorf("physmem: rollback free 0x%x: %w", addr, err)
		}
	}
	return nil
}

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}
