package core

// SignalSet is the set of signals currently asserted (awaiting
// acknowledgment) on a task. SignalMask is the set of bits a task has
// unblocked via SetSigmask; wait only returns for bits present in both.
type SignalSet uint32
type SignalMask uint32

// Well-known signal bits. Bits above TaskMask are reserved for
// future per-subsystem use.
const (
	AllMask  SignalMask = 0xffffffff
	TaskMask SignalMask = 0x000000ff

	KSLEEP       SignalSet = 1 << 0
	TERMINATE    SignalSet = 1 << 1
	PORT_RXREADY SignalSet = 1 << 2
	PIPE_RXREADY SignalSet = 1 << 3
)
