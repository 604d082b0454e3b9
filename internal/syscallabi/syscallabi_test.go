package syscallabi

import (
	"strings"
	"testing"

	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/platform"
)

type builderConsole struct {
	sb strings.Builder
}

func (c *builderConsole) WriteByte(b byte) error {
	return c.sb.WriteByte(b)
}

func newTestScheduler(t *testing.T) (*core.Scheduler, *core.Task, platform.Adapter) {
	t.Helper()
	sim := platform.NewSim(8192)
	var tm core.Timer
	tm.Init(sim)
	tm.SetTickInterval(100)

	var sched core.Scheduler
	sched.Init(sim, &tm)

	idle := &core.Task{}
	sched.InitTask(idle, "idle", 0, 0, 4096, 0)
	sched.SetIdle(idle)
	sched.SetSwitchReady(true)

	task := &core.Task{}
	sched.InitTask(task, "a", 0, 0, 4096, 0)
	sched.Start(task)
	sched.Select()

	return &sched, task, sim
}

func TestPackUnpackArgRoundTrip(t *testing.T) {
	packed := PackArg(ConsoleWrite, 0)
	id, a1 := UnpackArg(packed)
	if id != ConsoleWrite || a1 != 0 {
		t.Fatalf("UnpackArg(%x) = (%x, %x), want (%x, 0)", packed, id, a1, ConsoleWrite)
	}
}

func TestDispatchConsoleWrite(t *testing.T) {
	sched, task, adapter := newTestScheduler(t)
	console := &builderConsole{}
	d := &Dispatcher{Sched: sched, Adapter: adapter, Console: console}

	msg := []byte("hi")
	if err := adapter.CopyToUser(0x100, msg); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}

	ret := d.Dispatch(task, PackArg(ConsoleWrite, 0), 0x100, uint32(len(msg)), 0)
	if ret != 0 {
		t.Fatalf("Dispatch(ConsoleWrite) = %d, want 0", ret)
	}
	if console.sb.String() != "hi" {
		t.Fatalf("console received %q, want %q", console.sb.String(), "hi")
	}
}

func TestDispatchConsoleWriteFailsOnBadAddress(t *testing.T) {
	sched, task, adapter := newTestScheduler(t)
	d := &Dispatcher{Sched: sched, Adapter: adapter, Console: &builderConsole{}}

	ret := d.Dispatch(task, PackArg(ConsoleWrite, 0), 0xffffffff, 4, 0)
	if ret != -1 {
		t.Fatalf("Dispatch(ConsoleWrite) with bad addr = %d, want -1", ret)
	}
}

func TestDispatchUnknownSyscallReturnsNegativeOne(t *testing.T) {
	sched, task, adapter := newTestScheduler(t)
	d := &Dispatcher{Sched: sched, Adapter: adapter, Console: &builderConsole{}}

	ret := d.Dispatch(task, PackArg(0xbeef, 0), 0, 0, 0)
	if ret != -1 {
		t.Fatalf("Dispatch(unknown) = %d, want -1", ret)
	}
}

func TestDispatchTaskExitMarksDying(t *testing.T) {
	sched, task, adapter := newTestScheduler(t)
	d := &Dispatcher{Sched: sched, Adapter: adapter, Console: &builderConsole{}}

	ret := d.Dispatch(task, PackArg(TaskExit, 0), 0, 0, 0)
	if ret != 0 {
		t.Fatalf("Dispatch(TaskExit) = %d, want 0", ret)
	}
	if task.State() != core.Dying {
		t.Fatalf("task state after TaskExit = %v, want Dying", task.State())
	}
}
