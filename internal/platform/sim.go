package platform

import (
	"fmt"
	"sync"

	"github.com/nhdewitt/pico32/internal/kernerr"
)

// Sim is a software Adapter: no real hardware, no real MPU. It backs the
// entire simulated physical address space with one Go byte slice and
// treats every uintptr the kernel hands it as an offset into that slice.
// Context-switch requests and IRQ masking are modeled with channels and a
// mutex rather than real CPU state, which is enough to drive
// internal/core's scheduler and internal/ipc deterministically in tests
// and in cmd/kernsim.
type Sim struct {
	mu sync.Mutex

	mem         []byte
	irqMask     bool // true == IRQs globally disabled
	irqHandlers map[int]bool

	timerMsec uint32
	timerOn   bool

	// kick is signaled once per KickContextSwitch call; a driving loop or
	// a test may drain it (via KickCh) to learn a reschedule is due.
	// internal/kernel's Run loop does not read it.
	kick chan struct{}
}

// NewSim allocates a simulated physical address space of size bytes.
// Address 0 is reserved (treated as a null pointer by callers) and is not
// part of the usable range physmem hands out.
func NewSim(size uintptr) *Sim {
	return &Sim{
		mem:         make([]byte, size),
		irqHandlers: make(map[int]bool),
		kick:        make(chan struct{}, 1),
	}
}

// KickCh exposes the context-switch request channel for a driving run
// loop (there is no real interrupt to jump into a trampoline from).
func (s *Sim) KickCh() <-chan struct{} { return s.kick }

func (s *Sim) CPUInit() {}

func (s *Sim) CPUIdle() {}

func (s *Sim) IRQEnable(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqHandlers[n] = true
}

func (s *Sim) IRQDisable(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.irqHandlers, n)
}

func (s *Sim) CPUIrqEnable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqMask = false
}

func (s *Sim) CPUIrqDisable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqMask = true
}

func (s *Sim) IRQDisableSave() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := uint32(0)
	if s.irqMask {
		prev = 1
	}
	s.irqMask = true
	return prev
}

func (s *Sim) IRQEnableRestore(mask uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqMask = mask != 0
}

// TaskStackSetup has nothing real to synthesize without a CPU register
// file, so it returns top unchanged and ignores entry, arg, got and
// exitFn. Task code in the sim runs through the step functions
// registered with internal/kernel's AddStep, not through this frame.
func (s *Sim) TaskStackSetup(top, entry, arg, got uintptr, isUser bool, exitFn uintptr) StackFrame {
	return StackFrame(top)
}

func (s *Sim) KickContextSwitch() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Sim) TimerSetMsec(ms uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerMsec = ms
}

func (s *Sim) TimerEnable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerOn = true
}

func (s *Sim) TimerDisable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerOn = false
}

func (s *Sim) MPUEnable()  {}
func (s *Sim) MPUDisable() {}

func (s *Sim) MPUTableInit(t *MPUTable) {
	t.Regions = t.Regions[:0]
}

func (s *Sim) MPUTableSet(t *MPUTable, index int, r MPURegion) {
	for len(t.Regions) <= index {
		t.Regions = append(t.Regions, MPURegion{})
	}
	t.Regions[index] = r
}

// MPUTableProgram validates region alignment the same way a real MPU
// driver's programming step would fault on misalignment; the sim has no
// hardware to actually protect, so it only checks the invariant.
func (s *Sim) MPUTableProgram(t *MPUTable) error {
	for _, r := range t.Regions {
		if r.Size == 0 {
			continue
		}
		if r.Size&(r.Size-1) != 0 {
			return fmt.Errorf("platform: sim MPU region size 0x%x is not a power of two", r.Size)
		}
		if r.Base%r.Size != 0 {
			return fmt.Errorf("platform: sim MPU region base 0x%x not aligned to size 0x%x", r.Base, r.Size)
		}
	}
	return nil
}

func (s *Sim) MPUMinRegionSize() uintptr { return 32 }

func (s *Sim) CopyFromUser(dst []byte, userSrc uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := userSrc + uintptr(len(dst))
	if userSrc == 0 || end > uintptr(len(s.mem)) {
		return kernerr.ErrInvalidArgs
	}
	copy(dst, s.mem[userSrc:end])
	return nil
}

func (s *Sim) CopyToUser(userDst uintptr, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := userDst + uintptr(len(src))
	if userDst == 0 || end > uintptr(len(s.mem)) {
		return kernerr.ErrInvalidArgs
	}
	copy(s.mem[userDst:end], src)
	return nil
}

func (s *Sim) ReadByteFromUser(userSrc uintptr) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userSrc == 0 || userSrc >= uintptr(len(s.mem)) {
		return 0, kernerr.ErrInvalidArgs
	}
	return s.mem[userSrc], nil
}

// Base returns the sim's backing slice base, for tests and physmem
// region registration (Region{Base: sim.Base(), ...}).
func (s *Sim) Base() uintptr { return 0 }

// Size returns the size of the simulated physical address space.
func (s *Sim) Size() uintptr { return uintptr(len(s.mem)) }
