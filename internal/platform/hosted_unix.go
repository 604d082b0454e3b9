//go:build linux || darwin

package platform

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"

	"github.com/nhdewitt/pico32/internal/kernerr"
)

// Hosted is an Adapter backed by a real anonymous mmap region on a
// Linux/Darwin dev host, with MPU region enable/disable implemented as
// real mprotect calls. It lets internal/taskmem's region composition run
// against genuine page protection instead of only checking alignment
// invariants, at the cost of page (not MPU-subregion) granularity.
type Hosted struct {
	mu sync.Mutex

	mem      []byte
	pageSize uintptr

	irqMask   bool
	timerOn   bool
	timerMsec uint32

	kick chan struct{}
}

// NewHosted reserves size bytes (rounded up to a whole number of pages)
// of anonymous, read-write memory via mmap.
func NewHosted(size uintptr) (*Hosted, error) {
	ps, err := sysconf.Sysconf(sysconf.SC_PAGESIZE)
	if err != nil {
		return nil, fmt.Errorf("platform: sysconf page size: %w", err)
	}
	pageSize := uintptr(ps)
	size = (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap %d bytes: %w", size, err)
	}

	return &Hosted{
		mem:      mem,
		pageSize: pageSize,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Close releases the backing mapping.
func (h *Hosted) Close() error {
	return unix.Munmap(h.mem)
}

func (h *Hosted) KickCh() <-chan struct{} { return h.kick }

func (h *Hosted) CPUInit() {}
func (h *Hosted) CPUIdle() {}

func (h *Hosted) IRQEnable(n int)  {}
func (h *Hosted) IRQDisable(n int) {}

func (h *Hosted) CPUIrqEnable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.irqMask = false
}

func (h *Hosted) CPUIrqDisable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.irqMask = true
}

func (h *Hosted) IRQDisableSave() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := uint32(0)
	if h.irqMask {
		prev = 1
	}
	h.irqMask = true
	return prev
}

func (h *Hosted) IRQEnableRestore(mask uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.irqMask = mask != 0
}

func (h *Hosted) TaskStackSetup(top, entry, arg, got uintptr, isUser bool, exitFn uintptr) StackFrame {
	return StackFrame(top)
}

func (h *Hosted) KickContextSwitch() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func (h *Hosted) TimerSetMsec(ms uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timerMsec = ms
}

func (h *Hosted) TimerEnable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timerOn = true
}

func (h *Hosted) TimerDisable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timerOn = false
}

func (h *Hosted) MPUEnable()  {}
func (h *Hosted) MPUDisable() {}

func (h *Hosted) MPUTableInit(t *MPUTable) {
	t.Regions = t.Regions[:0]
}

func (h *Hosted) MPUTableSet(t *MPUTable, index int, r MPURegion) {
	for len(t.Regions) <= index {
		t.Regions = append(t.Regions, MPURegion{})
	}
	t.Regions[index] = r
}

// MPUTableProgram mprotects the host page(s) backing each region to
// match its declared access rights. Region bases/sizes are offsets into
// h.mem and are used as given, not rounded; mprotect works at page
// granularity, so a region whose base is not page-aligned makes this
// return the mprotect error.
func (h *Hosted) MPUTableProgram(t *MPUTable) error {
	for _, r := range t.Regions {
		if r.Size == 0 {
			continue
		}
		if r.Size&(r.Size-1) != 0 {
			return fmt.Errorf("platform: region size 0x%x not a power of two", r.Size)
		}
		if r.Base%r.Size != 0 {
			return fmt.Errorf("platform: region base 0x%x not aligned to size 0x%x", r.Base, r.Size)
		}
		end := r.Base + r.Size
		if end > uintptr(len(h.mem)) {
			return kernerr.ErrInvalidArgs
		}
		prot := unix.PROT_READ
		if r.Writable {
			prot |= unix.PROT_WRITE
		}
		if r.Executable {
			prot |= unix.PROT_EXEC
		}
		region := h.mem[r.Base:end]
		if err := unix.Mprotect(region, prot); err != nil {
			return fmt.Errorf("platform: mprotect [0x%x,0x%x): %w", r.Base, end, err)
		}
	}
	return nil
}

func (h *Hosted) MPUMinRegionSize() uintptr { return h.pageSize }

func (h *Hosted) CopyFromUser(dst []byte, userSrc uintptr) error {
	end := userSrc + uintptr(len(dst))
	if userSrc == 0 || end > uintptr(len(h.mem)) {
		return kernerr.ErrInvalidArgs
	}
	copy(dst, h.mem[userSrc:end])
	return nil
}

func (h *Hosted) CopyToUser(userDst uintptr, src []byte) error {
	end := userDst + uintptr(len(src))
	if userDst == 0 || end > uintptr(len(h.mem)) {
		return kernerr.ErrInvalidArgs
	}
	copy(h.mem[userDst:end], src)
	return nil
}

func (h *Hosted) ReadByteFromUser(userSrc uintptr) (byte, error) {
	if userSrc == 0 || userSrc >= uintptr(len(h.mem)) {
		return 0, kernerr.ErrInvalidArgs
	}
	return h.mem[userSrc], nil
}

// Addr returns the real host virtual address backing offset off, for
// callers (tests) that want to poke the mapping directly with unsafe.
func (h *Hosted) Addr(off uintptr) uintptr {
	return uintptr(unsafe.Pointer(&h.mem[off]))
}

func (h *Hosted) Size() uintptr { return uintptr(len(h.mem)) }
