package kernel

import (
	"github.com/nhdewitt/pico32/internal/core"
)

// demoTask is a small state machine reproducing kern_test_task_fn from
// original_source/src/kern/core/task.c: every periodMs milliseconds
// (there, every 5000ms) it arms its own sleep timer, waits for KSLEEP, and logs a
// tick. The original runs this as an infinite blocking loop inside one
// C function, relying on the context switch to suspend and resume it in
// place; Run drives one non-blocking step per scheduling slice instead,
// so the loop body becomes an explicit two-phase state machine.
type demoTask struct {
	k        *Kernel
	task     core.TaskID
	armed    bool
	maskSet  bool
	count    int
	periodMs uint32
}

// StartDemoTask creates and starts a kernel task that logs a heartbeat
// every periodMs milliseconds, matching the "ktest" task's role as a
// smoke-test workload in original_source's boot sequence.
func (k *Kernel) StartDemoTask(name string, periodMs uint32, kstackTop uintptr) core.TaskID {
	task := &core.Task{}
	k.Sched.InitTask(task, name, 0, 0, kstackTop, 0)

	d := &demoTask{k: k, task: task, periodMs: periodMs}
	k.AddStep(task, d.step)
	k.Sched.Start(task)
	k.Console.Logf("[%s] started", name)
	return task
}

func (d *demoTask) step() {
	if !d.maskSet {
		d.k.Sched.SetSigmask(0, core.SignalMask(core.TaskMask))
		d.maskSet = true
	}

	if !d.armed {
		if !d.k.Sched.TimerSet(d.task, d.periodMs) {
			d.k.Console.Logf("[%s] failed to add task timer", d.task.Name)
			return
		}
		d.k.Console.Logf("[%s] tick=0x%08x, entering wait", d.task.Name, d.k.Timer.Now())
		d.armed = true
		return
	}

	if _, ok := d.k.Sched.Wait(core.SignalMask(core.KSLEEP)); ok {
		d.count++
		d.k.Console.Logf("[%s] woke, count=%d", d.task.Name, d.count)
		d.armed = false
	}
}
