// Package syscallabi implements the kernel's user/kernel syscall ABI:
// argument packing into a single 32-bit register word, and the demux
// table that was kern_syscall_handler in original_source's syscall.c.
//
// Per that file's own comment, arg1 packs a 16-bit syscall id and a
// 16-bit caller argument into one word — "for 64-bit platforms we'll
// have to fix this"; this package keeps exactly that uint32 encoding
// rather than widening it, since the ABI it describes targets a 32-bit
// MCU regardless of the host this simulates on (see this repository's
// design ledger).
package syscallabi

import (
	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/platform"
)

// Syscall ids, matching SYSCALL_ID_* in syscall.h.
const (
	ConsoleWrite uint16 = 0x0001
	Sleep        uint16 = 0x0002
	ConsoleWait  uint16 = 0x0003
	TaskExit     uint16 = 0x0004
)

// PackArg encodes a syscall id and a 16-bit caller argument into the
// single register word the platform ABI passes as arg1:
// | uint16 arg1 | uint16 syscall_id |.
func PackArg(id, arg1 uint16) uint32 {
	return (uint32(arg1) << 16) | uint32(id)
}

// UnpackArg decodes a register word packed by PackArg.
func UnpackArg(reg uint32) (id, arg1 uint16) {
	id = uint16(reg & 0xffff)
	arg1 = uint16((reg & 0xffff0000) >> 16)
	return
}

// ConsoleWriter is the sink kern_syscall_putsn's generalization writes
// to — the kernel console in production, a strings.Builder in tests.
type ConsoleWriter interface {
	WriteByte(b byte) error
}

// Dispatcher holds everything a syscall handler needs to act on behalf
// of the calling task: the scheduler (for sleep/wait/exit), the platform
// adapter (for copying out of user memory), and the console sink.
type Dispatcher struct {
	Sched   *core.Scheduler
	Adapter platform.Adapter
	Console ConsoleWriter
}

// Dispatch demultiplexes a syscall the way kern_syscall_handler did:
// arg1 carries the packed (syscall id, arg1) word; arg2/arg3/arg4 are
// the remaining syscall arguments verbatim. It returns -1 for both an
// unrecognized syscall id and any handler failure, matching the
// original's single-sentinel failure convention.
func (d *Dispatcher) Dispatch(task core.TaskID, packedArg1, arg2, arg3, arg4 uint32) int32 {
	id, a1 := UnpackArg(packedArg1)

	switch id {
	case ConsoleWrite:
		return d.consoleWrite(uint32(a1), arg2, arg3)
	case Sleep:
		return d.sleep(task, arg2)
	case TaskExit:
		return d.taskExit(task)
	default:
		return -1
	}
}

// consoleWrite copies arg3 bytes from the calling task's memory
// starting at address arg2, writing each to the console — a user-space
// safe generalization of kern_syscall_putsn's per-byte
// platform_user_ram_read_byte_from_user loop.
func (d *Dispatcher) consoleWrite(arg1, addr, length uint32) int32 {
	for i := uint32(0); i < length; i++ {
		b, err := d.Adapter.ReadByteFromUser(uintptr(addr + i))
		if err != nil {
			return -1
		}
		if err := d.Console.WriteByte(b); err != nil {
			return -1
		}
	}
	return 0
}

// sleep arms the calling task's timer for arg2 milliseconds and calls
// Wait on KSLEEP once, as kern_syscall_sleep does. core's Wait does not
// suspend the caller, so sleep returns 0 right away; the task is left
// Sleeping until the timer posts KSLEEP.
func (d *Dispatcher) sleep(task core.TaskID, msec uint32) int32 {
	if !d.Sched.TimerSet(task, msec) {
		return -1
	}
	d.Sched.Wait(core.SignalMask(core.KSLEEP))
	return 0
}

// taskExit marks the calling task as exiting. Unlike the original's
// kern_syscall_exit, which spins calling platform_kick_context_switch
// forever because C has no way to unwind a syscall trap early, this
// simply returns: Go's caller (the simulated trap handler) is expected
// to stop running that goroutine once Exit has moved the task off the
// scheduler's active list.
func (d *Dispatcher) taskExit(task core.TaskID) int32 {
	d.Sched.Exit()
	return 0
}
