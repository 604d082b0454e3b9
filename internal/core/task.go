package core

import (
	"fmt"
	"sync"

	"github.com/nhdewitt/pico32/internal/kernerr"
	"github.com/nhdewitt/pico32/internal/klist"
	"github.com/nhdewitt/pico32/internal/platform"
)

// State is a task's position in the scheduler's state machine.
type State int

const (
	Idle State = iota
	Ready
	Running
	Sleeping
	Dying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Dying:
		return "dying"
	default:
		return "unknown"
	}
}

// Dynamic-allocation flags, mirroring the bits the original kernel kept
// on task_flags so reap knows what to release.
const (
	FlagDynamicStruct uint32 = 1 << 0
	FlagDynamicKStack uint32 = 1 << 1
	FlagDynamicUStack uint32 = 1 << 2
	FlagEnableMPU     uint32 = 1 << 3
)

// TaskID identifies a task for cross-task calls (Signal, TimerSet). It is
// the task itself: unlike the C kernel, which recovers a *kern_task from
// an opaque integer id, Go can just hand back the pointer. There is no
// id-to-task lookup and no task reference counting in this package.
type TaskID = *Task

// Task is one schedulable unit of execution, kernel or user mode.
type Task struct {
	Name string

	taskListNode klist.Node
	activeNode   klist.Node

	onActiveList bool
	onDyingList  bool

	state State
	flags uint32

	refcount uint16

	IsUserTask bool
	KStackTop  uintptr
	StackTop   platform.StackFrame
	GotBase    uintptr

	SleepEv Event

	sigSet  SignalSet
	sigMask SignalMask

	// OnReap is invoked once, with the scheduler lock NOT held, when the
	// idle task reaps this task after Dying. It releases whatever
	// dynamically-allocated resources (task memory segments, MPU table)
	// the creator attached — internal/core has no dependency on
	// internal/taskmem or internal/ipc; the creator supplies the hook.
	OnReap func()

	// OnWake is invoked, with the scheduler lock NOT held, whenever
	// Signal transitions this task from Sleeping to Ready. The original
	// kernel has no notion of this — a blocked task's context is simply
	// resumed in place by the context switch. The hook is optional;
	// internal/kernel does not set it, since its Run loop simply calls
	// the task's step function again whenever Select picks the task.
	OnWake func()
}

// State returns the task's current scheduler state.
func (t *Task) State() State { return t.state }

// Scheduler owns the task lists and drives selection. There is exactly
// one Scheduler per kernel instance; current_task in the original C
// kernel becomes Scheduler.current here.
type Scheduler struct {
	mu sync.Mutex

	adapter platform.Adapter
	timer   *Timer

	taskList   klist.List
	activeList klist.List
	dyingList  klist.List

	activeCount int
	dyingCount  int

	current *Task
	idle    *Task

	switchReady bool
}

// Init prepares the scheduler. It does not create the idle task; callers
// (internal/kernel) do that with InitTask + SetIdle once the idle
// entry point is available.
func (s *Scheduler) Init(adapter platform.Adapter, timer *Timer) {
	s.adapter = adapter
	s.timer = timer
	s.taskList.Init()
	s.activeList.Init()
	s.dyingList.Init()
}

// InitTask prepares a kernel task. It is left in Idle; Start makes it
// runnable. kstackTop is the address one past the end of the kernel
// stack (the stack grows down from it); entry/arg are passed to
// platform.TaskStackSetup to synthesize the first dispatch frame.
func (s *Scheduler) InitTask(task *Task, name string, entry, arg, kstackTop uintptr, flags uint32) {
	task.Name = name
	task.taskListNode.Init(task)
	task.activeNode.Init(task)
	task.flags = flags
	task.state = Idle
	task.sigMask = TaskMask

	s.timer.EventSetup(&task.SleepEv, func(ev *Event, a1, a2 uintptr, a3 uint32) {
		s.Signal(task, KSLEEP)
	}, 0, 0, 0)

	task.StackTop = s.adapter.TaskStackSetup(kstackTop, entry, arg, 0, false, 0)

	s.mu.Lock()
	s.taskList.AddTail(&task.taskListNode)
	s.mu.Unlock()
}

// UserInitTask prepares a user-mode task with a distinct user and kernel
// stack, GOT base, and MPU-backed task memory. The task is left in Idle;
// callers typically Start it immediately after the loader finishes
// wiring up its memory segments.
func (s *Scheduler) UserInitTask(task *Task, name string, entry, arg, userStackTop, kstackTop, gotBase uintptr, flags uint32) {
	task.Name = name
	task.taskListNode.Init(task)
	task.activeNode.Init(task)
	task.flags = flags | FlagEnableMPU
	task.state = Idle
	task.sigMask = TaskMask
	task.IsUserTask = true
	task.GotBase = gotBase

	s.timer.EventSetup(&task.SleepEv, func(ev *Event, a1, a2 uintptr, a3 uint32) {
		s.Signal(task, KSLEEP)
	}, 0, 0, 0)

	task.StackTop = s.adapter.TaskStackSetup(userStackTop, entry, arg, gotBase, true, 0)
	task.KStackTop = kstackTop

	s.mu.Lock()
	s.taskList.AddTail(&task.taskListNode)
	s.mu.Unlock()
}

// SetIdle designates task as the idle task. It is never placed on the
// active list; Select falls back to it whenever the active list is
// empty or a reap is pending.
func (s *Scheduler) SetIdle(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = task
	s.current = task
	task.state = Running
}

// Start transitions an Idle task to Ready and enqueues it on the active
// list. Starting an already-started task is a no-op.
func (s *Scheduler) Start(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.state != Idle {
		return
	}
	s.setStateLocked(task, Ready)
}

// Select is called by the context-switch trampoline to pick the next
// task to run: round-robin among Ready tasks, forced to the idle task
// whenever a reap is pending so it can run uncontended.
func (s *Scheduler) Select() *Task {
	s.mu.Lock()

	var next *Task
	if s.dyingCount == 0 {
		if n := s.activeList.Head(); n != nil {
			next = n.Owner().(*Task)
		}
	}

	if s.current != nil && s.current.state == Running {
		s.current.state = Ready
	}

	if next != nil {
		s.current = next
		s.activeList.Delete(&next.activeNode)
		s.activeList.AddTail(&next.activeNode)
	} else {
		s.current = s.idle
	}
	s.current.state = Running

	count := s.activeCount
	s.mu.Unlock()

	s.timer.TaskCount(count)
	return s.current
}

// Current returns the task currently marked Running.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ReapDying unlinks every Dying task from the task/dying lists and
// invokes its OnReap hook. It is meant to be called only from the idle
// task, matching the original kernel's "only idle reaps" rule so cleanup
// never races a task that might still reference itself.
func (s *Scheduler) ReapDying() {
	for {
		s.mu.Lock()
		n := s.dyingList.PopHead()
		if n == nil {
			s.mu.Unlock()
			return
		}
		task := n.Owner().(*Task)
		s.taskList.Delete(&task.taskListNode)
		task.onDyingList = false
		s.dyingCount--
		s.mu.Unlock()

		if task.OnReap != nil {
			task.OnReap()
		}
	}
}

// Exit marks the current task Dying and requests a context switch. It
// must be called from the task's own context; it never returns to the
// caller in the C original (the task switch takes over), but in this
// goroutine-driven model the caller's run loop is expected to stop
// executing task logic once Exit returns.
func (s *Scheduler) Exit() {
	cur := s.Current()
	if cur == s.idle {
		panic("core: idle task called Exit")
	}
	s.timer.EventDel(&cur.SleepEv)
	s.timer.EventClean(&cur.SleepEv)

	s.mu.Lock()
	s.setStateLocked(cur, Dying)
	s.mu.Unlock()
}

// Wait blocks the current task until (sig_set & mask & sig_mask) != 0,
// clearing the matched bits, and returns the full signal set observed at
// the moment of the match. It must be called from task context. It does
// not suspend the caller: with no match it marks the task Sleeping and
// returns (0, false), and callers retry on a later slice (internal/kernel
// calls the task's step function again once Select picks it).
func (s *Scheduler) Wait(mask SignalMask) (SignalSet, bool) {
	cur := s.Current()
	s.mu.Lock()
	defer s.mu.Unlock()

	sigs := cur.sigSet
	if sigs&SignalSet(mask)&SignalSet(cur.sigMask) != 0 {
		s.setStateLocked(cur, Ready)
		matched := sigs & SignalSet(mask) & SignalSet(cur.sigMask)
		cur.sigSet &^= matched
		return sigs, true
	}
	s.setStateLocked(cur, Sleeping)
	return 0, false
}

// Signal ORs set into task's sig_set and, if that now intersects the
// task's sig_mask, wakes it (Sleeping -> Ready). It fails with
// ErrInvalidTaskID if task is not in a signalable state.
func (s *Scheduler) Signal(task TaskID, set SignalSet) error {
	s.mu.Lock()

	switch task.state {
	case Sleeping, Ready, Running:
	default:
		s.mu.Unlock()
		return kernerr.ErrInvalidTaskID
	}

	task.sigSet |= set
	woke := false
	if task.sigSet&SignalSet(task.sigMask) != 0 && task.state == Sleeping {
		s.setStateLocked(task, Ready)
		woke = true
	}
	s.mu.Unlock()

	if woke && task.OnWake != nil {
		task.OnWake()
	}
	return nil
}

// SetSigmask updates the current task's signal mask: mask = (mask & and)
// | or, letting a caller both set and clear bits in one call.
func (s *Scheduler) SetSigmask(and, or SignalMask) {
	cur := s.Current()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur.sigMask = (cur.sigMask & and) | or
}

// TimerSet cancels task's sleep timer and rearms it to fire after msec
// milliseconds, posting KSLEEP to task when it does. It returns false if
// the timer could not be cancelled (already firing).
func (s *Scheduler) TimerSet(task *Task, msec uint32) bool {
	if !s.timer.EventDel(&task.SleepEv) {
		return false
	}
	return s.timer.EventAdd(&task.SleepEv, msec)
}

// setStateLocked applies the state machine edges described in spec §4.1.
// Caller holds s.mu.
func (s *Scheduler) setStateLocked(task *Task, new State) {
	if task.state == new {
		return
	}
	task.state = new

	switch new {
	case Dying:
		if task.onActiveList {
			s.activeList.Delete(&task.activeNode)
			task.onActiveList = false
			s.activeCount--
		}
		if !task.onDyingList {
			task.onDyingList = true
			s.dyingCount++
			s.dyingList.AddTail(&task.activeNode)
		}
		s.kickLocked()
	case Sleeping:
		if task.onActiveList {
			s.activeList.Delete(&task.activeNode)
			task.onActiveList = false
			s.activeCount--
		}
		s.kickLocked()
	case Ready:
		if !task.onActiveList {
			s.activeList.AddTail(&task.activeNode)
			task.onActiveList = true
			s.activeCount++
			s.kickLocked()
		}
	case Running:
		// Running is only ever entered via Select.
	default:
		panic(fmt.Sprintf("core: unhandled task state transition to %v", new))
	}
}

func (s *Scheduler) kickLocked() {
	if s.switchReady {
		s.adapter.KickContextSwitch()
	}
}

// SetSwitchReady enables KickContextSwitch requests. It is held false
// during boot so early state changes (creating the idle and first system
// tasks) don't race a context switch before the scheduler is driving
// anything.
func (s *Scheduler) SetSwitchReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switchReady = ready
}

// ActiveCount reports the number of tasks currently on the active list
// (the Ready tasks plus the Running one, which stays on it), for
// diagnostics and tests.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// DyingCount reports the number of tasks awaiting reap.
func (s *Scheduler) DyingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dyingCount
}
