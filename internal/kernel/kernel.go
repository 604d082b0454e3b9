// Package kernel wires the microkernel's subsystems together and drives
// the boot sequence and run loop, the way internal/agent.Agent wires the
// teacher's collectors, sender, and command loop together behind
// Start/Shutdown.
package kernel

import (
	"fmt"

	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/flash"
	"github.com/nhdewitt/pico32/internal/ipc/port"
	"github.com/nhdewitt/pico32/internal/kernerr"
	"github.com/nhdewitt/pico32/internal/loader"
	"github.com/nhdewitt/pico32/internal/physmem"
	"github.com/nhdewitt/pico32/internal/platform"
	"github.com/nhdewitt/pico32/internal/syscallabi"
	"github.com/nhdewitt/pico32/internal/taskmem"
)

// Config describes one boot's board layout: the RAM region the physical
// allocator carves task memory out of, and the tick interval the timer
// wheel runs at. Mirrors Agent.Config's role for cmd/agent — a small,
// explicit value type the main package fills in from flags/env and hands
// to the constructor.
type Config struct {
	RAMBase          uintptr
	RAMSize          uintptr
	TickIntervalMsec uint32
}

// Kernel owns every subsystem instance for one booted microkernel and
// the bookkeeping (task -> step function, name registry) that lets Run
// drive them. There is exactly one Kernel per simulated board, matching
// Agent's one-controller-per-process shape.
type Kernel struct {
	Adapter  platform.Adapter
	Physmem  *physmem.Allocator
	Timer    *core.Timer
	Sched    *core.Scheduler
	Ports    *port.Registry
	Console  *Console
	Syscalls *syscallabi.Dispatcher

	idle  *core.Task
	steps map[core.TaskID]func()
}

// Boot brings up a kernel instance: platform init, the physical memory
// pool, the timer wheel, the idle task, and the IPC port registry. It
// mirrors kern_task_setup/kern_timer_setup/kern_ipc_port_init's ordering
// in original_source's startup path (core/init.c), adapted to Go's
// explicit-construction style instead of a sequence of bare init calls
// over process-global state.
func Boot(adapter platform.Adapter, cfg Config, console *Console) (*Kernel, error) {
	adapter.CPUInit()

	alloc := &physmem.Allocator{}
	if err := alloc.AddRegion(physmem.Region{Name: "ram", Base: cfg.RAMBase, Size: cfg.RAMSize}); err != nil {
		return nil, fmt.Errorf("kernel: boot: add ram region: %w", err)
	}

	timer := &core.Timer{}
	timer.Init(adapter)
	timer.SetTickInterval(cfg.TickIntervalMsec)

	sched := &core.Scheduler{}
	sched.Init(adapter, timer)

	idle := &core.Task{}
	sched.InitTask(idle, "kidle", 0, 0, 4096, 0)
	sched.SetIdle(idle)

	ports := port.NewRegistry()

	k := &Kernel{
		Adapter: adapter,
		Physmem: alloc,
		Timer:   timer,
		Sched:   sched,
		Ports:   ports,
		Console: console,
		idle:    idle,
		steps:   make(map[core.TaskID]func()),
	}
	k.Syscalls = &syscallabi.Dispatcher{Sched: sched, Adapter: adapter, Console: console}

	board := platform.BoardInfo()
	console.Logf("boot: %d core(s), %s, %d MB RAM available", board.Cores, board.CPUModel, board.AvailRAM/(1<<20))
	console.Logf("boot: ram region base=0x%x size=0x%x", cfg.RAMBase, cfg.RAMSize)

	sched.SetSwitchReady(true)
	return k, nil
}

// LoadUserProgram resolves name in span, parses its header, allocates
// its writable segments, relocates its GOT, sets up its task memory
// table and MPU region table, and starts a user task running it. This
// is the Go-native generalization of kern_user_exec_load_and_run:
// original_source only ever loaded the one program baked into flash at
// a fixed offset; here any named archive entry can be booted.
func (k *Kernel) LoadUserProgram(span *flash.Span, name string, kstackTop uintptr) (*core.Task, error) {
	entry, ok := span.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("kernel: load %q: %w", name, kernerr.ErrInvalidArgs)
	}
	payload := span.Payload(entry)

	hdr, err := loader.ParseHeader(payload)
	if err != nil {
		return nil, fmt.Errorf("kernel: load %q: %w", name, err)
	}

	// Text and rodata stay execute-in-place from flash: find the payload's
	// absolute address by offsetting from the entry's PayloadStart inside
	// the span image. The caller is expected to have mapped span.image at
	// a known flash base; for the in-process simulator the "flash base"
	// and the span's backing slice are the same address space, so the XIP
	// address is just the slice offset.
	textAddr := uintptr(entry.PayloadStart) + uintptr(hdr.TextOffset)
	rodataAddr := uintptr(entry.PayloadStart) + uintptr(hdr.RodataOffset)

	var table taskmem.Table
	segs, err := loader.AllocateSegments(hdr, textAddr, rodataAddr, k.Physmem, &table)
	if err != nil {
		return nil, fmt.Errorf("kernel: load %q: allocate segments: %w", name, err)
	}

	copyToUser := func(dst uintptr, src []byte) error { return k.Adapter.CopyToUser(dst, src) }
	zeroUser := func(dst uintptr, size uint32) error { return k.Adapter.CopyToUser(dst, make([]byte, size)) }
	if err := loader.SetupSegments(payload, hdr, segs, copyToUser, zeroUser); err != nil {
		table.Cleanup(k.Physmem)
		return nil, fmt.Errorf("kernel: load %q: setup segments: %w", name, err)
	}

	mpu, err := taskmem.SetupMPU(&table, k.Adapter)
	if err != nil {
		table.Cleanup(k.Physmem)
		return nil, fmt.Errorf("kernel: load %q: setup mpu: %w", name, err)
	}
	if err := k.Adapter.MPUTableProgram(mpu); err != nil {
		table.Cleanup(k.Physmem)
		return nil, fmt.Errorf("kernel: load %q: program mpu: %w", name, err)
	}
	k.Adapter.MPUEnable()

	userStackTop := segs.StackAddr + table.GetSize(taskmem.UserStack)

	task := &core.Task{}
	k.Sched.UserInitTask(task, name, textAddr, 0, userStackTop, kstackTop, segs.GotAddr, core.FlagEnableMPU)
	task.OnReap = func() {
		table.Cleanup(k.Physmem)
		k.Adapter.MPUDisable()
	}

	k.Sched.Start(task)
	k.Console.Logf("load: started user task %q (text=0x%x stack=0x%x)", name, textAddr, segs.StackAddr)
	return task, nil
}

// AddStep registers the function Run calls every time task is selected
// to execute. A step function should perform one bounded slice of work
// and return — typically arming a timer and checking Wait, exactly the
// shape kern_test_task_fn's top-level while(1) loop has, broken into a
// single pass instead of a blocking call, since Go's Wait (unlike the
// original's context-switching kern_task_wait) cannot suspend the
// caller.
func (k *Kernel) AddStep(task core.TaskID, step func()) {
	k.steps[task] = step
}

// Run drives slices scheduling rounds: select the next runnable task,
// run its registered step (if any), reap anything that exited, and
// advance the timer wheel by one tick interval. This is the simulator's
// substitute for platform_cpu_idle()/the hardware systick interrupt
// actually elapsing time.
func (k *Kernel) Run(slices int) {
	for i := 0; i < slices; i++ {
		task := k.Sched.Select()
		if task == k.idle {
			k.Sched.ReapDying()
			k.Timer.Idle()
		} else if step, ok := k.steps[task]; ok {
			step()
		}
		k.Timer.Tick()
	}
}
