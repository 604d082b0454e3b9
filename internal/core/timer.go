package core

import (
	"sync"

	"github.com/nhdewitt/pico32/internal/klist"
	"github.com/nhdewitt/pico32/internal/platform"
)

// EventFunc is a timer callback. It runs with the timer lock dropped and
// interrupts enabled (see Timer.Tick); it must not call EventAdd or
// EventDel on any event, including its own — to reschedule itself it
// sets Rearm and RearmMsec before returning, and Tick reinserts the
// event atomically once every callback in the batch has run.
type EventFunc func(ev *Event, arg1, arg2 uintptr, arg3 uint32)

// Event is a single scheduled timer callback. Callers embed or allocate
// one per use (a task's sleep timer, say) and must not reuse it while
// queued or active.
type Event struct {
	node klist.Node

	fn         EventFunc
	arg1, arg2 uintptr
	arg3       uint32

	tick   uint32
	queued bool
	active bool

	Rearm     bool
	RearmMsec uint32
}

// tickAfterEq reports whether a is at or after b, using a signed
// difference so comparisons stay correct across uint32 wraparound.
func tickAfterEq(a, b uint32) bool {
	return int32(a-b) >= 0
}

// Timer is the tick-driven event wheel: a monotonic millisecond counter
// plus an ascending-order list of pending Events. Tick is meant to be
// invoked by the platform's timer interrupt; in the simulator,
// internal/kernel's Run loop calls it once per slice.
type Timer struct {
	mu sync.Mutex

	adapter platform.Adapter

	tickMsec uint32
	interval uint32
	running  bool

	pending klist.List
}

// Init prepares the timer and leaves the hardware tick source disabled.
func (t *Timer) Init(adapter platform.Adapter) {
	t.adapter = adapter
	t.pending.Init()
	t.adapter.TimerDisable()
}

// SetTickInterval sets the millisecond resolution of future ticks. It
// does not by itself start the hardware timer.
func (t *Timer) SetTickInterval(msec uint32) {
	t.mu.Lock()
	t.interval = msec
	t.mu.Unlock()
	t.adapter.TimerSetMsec(msec)
}

func (t *Timer) startLocked() {
	if !t.running {
		t.running = true
		t.adapter.TimerEnable()
	}
}

func (t *Timer) stopLocked() {
	if t.running {
		t.running = false
		t.adapter.TimerDisable()
	}
}

// Start enables the hardware tick source.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
}

// Stop disables the hardware tick source. Tick does not check this, so a
// caller that keeps invoking Tick still advances the counter.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Now returns the current absolute tick count.
func (t *Timer) Now() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tickMsec
}

// Tick advances the monotonic counter by one interval, moves every due
// event to a local dispatch list, drops the timer lock, and invokes each
// callback in order. After every callback has run, events that asked to
// rearm are reinserted atomically; the rest are cleaned up.
func (t *Timer) Tick() {
	var due klist.List
	due.Init()

	t.mu.Lock()
	t.tickMsec += t.interval
	for {
		n := t.pending.Head()
		if n == nil {
			break
		}
		ev := n.Owner().(*Event)
		if !tickAfterEq(t.tickMsec, ev.tick) {
			break
		}
		t.pending.Delete(n)
		ev.queued = false
		ev.active = true
		due.AddTail(n)
	}
	t.mu.Unlock()

	for n := due.Head(); n != nil; n = n.Next() {
		ev := n.Owner().(*Event)
		ev.fn(ev, ev.arg1, ev.arg2, ev.arg3)
	}

	t.mu.Lock()
	for {
		n := due.PopHead()
		if n == nil {
			break
		}
		ev := n.Owner().(*Event)
		ev.active = false
		if ev.Rearm {
			ev.Rearm = false
			t.addLocked(ev, ev.RearmMsec)
		}
	}
	t.mu.Unlock()
}

// Idle stops the hardware timer if there is nothing pending. It is
// called from the scheduler's idle task on every pass through the idle
// loop; TaskCount restarts the timer once more than one task is ready.
func (t *Timer) Idle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending.IsEmpty() {
		t.stopLocked()
	}
}

// TaskCount is called by the scheduler on every context switch with the
// number of tasks on the active list. With more than one task ready the
// timer must keep running so the quantum can expire and preemption can
// happen; with zero or one it is safe to let Idle stop it.
func (t *Timer) TaskCount(tasks int) {
	if tasks > 1 {
		t.mu.Lock()
		t.startLocked()
		t.mu.Unlock()
	}
}

// EventSetup initializes ev to call fn(ev, arg1, arg2, arg3) when it
// fires. It must be called once before the event is ever passed to
// EventAdd.
func (t *Timer) EventSetup(ev *Event, fn EventFunc, arg1, arg2 uintptr, arg3 uint32) {
	ev.node.Init(ev)
	ev.fn = fn
	ev.arg1 = arg1
	ev.arg2 = arg2
	ev.arg3 = arg3
	ev.tick = 0
	ev.queued = false
	ev.active = false
	ev.Rearm = false
}

// EventClean releases any resources held by ev. The event must already
// be off the pending list (EventDel it first). There is nothing to
// release today — no dynamic allocation backs an Event — but the call
// exists so callers have one teardown step if that ever changes.
func (t *Timer) EventClean(ev *Event) {}

// addLocked inserts ev to fire msec from now, in ascending-tick order.
// Caller holds t.mu.
func (t *Timer) addLocked(ev *Event, msec uint32) {
	abs := t.tickMsec + msec
	ev.tick = abs
	ev.queued = true
	ev.active = false
	ev.Rearm = false

	var mark *klist.Node
	for n := t.pending.Head(); n != nil; n = n.Next() {
		e := n.Owner().(*Event)
		if tickAfterEq(e.tick, abs) {
			mark = n
			break
		}
	}
	if mark == nil {
		t.pending.AddTail(&ev.node)
	} else {
		t.pending.AddBefore(mark, &ev.node)
	}
	t.startLocked()
}

// EventAdd schedules ev to fire msec milliseconds from now. It fails if
// ev is already queued or active.
func (t *Timer) EventAdd(ev *Event, msec uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.active || ev.queued {
		return false
	}
	t.addLocked(ev, msec)
	return true
}

// EventDel cancels ev. It returns true if ev was not on the list (a
// no-op) or was queued and has now been removed; it returns false if ev
// is currently active — firing is already in progress and cannot be
// cancelled.
func (t *Timer) EventDel(ev *Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ev.active && !ev.queued {
		return true
	}
	if !ev.active && ev.queued {
		t.pending.Delete(&ev.node)
		ev.queued = false
		return true
	}
	return false
}
