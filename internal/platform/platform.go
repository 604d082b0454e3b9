// Package platform defines the adapter boundary the kernel core requires
// from its environment: CPU/IRQ control, the tick timer, MPU programming,
// and validated user-memory copies. Everything above this package is
// portable; everything below it is per-board.
//
// Two Adapters are provided. Sim drives a cooperative single-virtual-CPU
// simulation entirely in-process (the default for tests and cmd/kernsim)
// and Hosted backs MPU regions with real page protection via
// golang.org/x/sys/unix on Linux/Darwin dev hosts, so the region-table
// composition logic in internal/taskmem can be exercised against a real
// MMU standing in for an MPU.
package platform

// MPURegion describes one programmed memory-protection region.
type MPURegion struct {
	Base       uintptr
	Size       uintptr
	Executable bool
	Writable   bool
	UserAccess bool
}

// MPUTable is the fixed-size set of regions programmed for a task.
type MPUTable struct {
	Regions []MPURegion
}

// StackFrame is the result of TaskStackSetup: the saved stack pointer a
// context switch should restore to enter the task for the first time.
type StackFrame uintptr

// Adapter is the platform boundary described in spec §6's external
// interfaces table. A board implements this once; the core never reaches
// below it.
type Adapter interface {
	CPUInit()
	CPUIdle()

	IRQEnable(n int)
	IRQDisable(n int)
	CPUIrqEnable()
	CPUIrqDisable()
	IRQDisableSave() uint32
	IRQEnableRestore(mask uint32)

	// TaskStackSetup synthesizes an initial exception frame at the top of
	// a stack region so the first dispatch enters entry(arg) cleanly.
	// got is the position-independent GOT base for user tasks (0 for
	// kernel tasks). exitFn is invoked if entry ever returns normally.
	TaskStackSetup(top uintptr, entry uintptr, arg uintptr, got uintptr, isUser bool, exitFn uintptr) StackFrame

	KickContextSwitch()

	TimerSetMsec(ms uint32)
	TimerEnable()
	TimerDisable()

	MPUEnable()
	MPUDisable()
	MPUTableInit(t *MPUTable)
	MPUTableSet(t *MPUTable, index int, r MPURegion)
	MPUTableProgram(t *MPUTable) error
	MPUMinRegionSize() uintptr

	CopyFromUser(dst []byte, userSrc uintptr) error
	CopyToUser(userDst uintptr, src []byte) error
	ReadByteFromUser(userSrc uintptr) (byte, error)
}
