package core

import (
	"testing"

	"github.com/nhdewitt/pico32/internal/platform"
)

func newTestScheduler(t *testing.T) (*Scheduler, *Timer) {
	t.Helper()
	sim := platform.NewSim(8192)
	var tm Timer
	tm.Init(sim)
	tm.SetTickInterval(100)

	var sched Scheduler
	sched.Init(sim, &tm)

	idle := &Task{}
	sched.InitTask(idle, "idle", 0, 0, 4096, 0)
	sched.SetIdle(idle)
	sched.SetSwitchReady(true)

	return &sched, &tm
}

func TestStartTransitionsIdleToReady(t *testing.T) {
	sched, _ := newTestScheduler(t)

	task := &Task{}
	sched.InitTask(task, "a", 0, 0, 4096, 0)
	if task.State() != Idle {
		t.Fatalf("new task state = %v, want Idle", task.State())
	}

	sched.Start(task)
	if task.State() != Ready {
		t.Fatalf("state after Start = %v, want Ready", task.State())
	}
	if sched.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", sched.ActiveCount())
	}
}

func TestSelectRoundRobin(t *testing.T) {
	sched, _ := newTestScheduler(t)

	a := &Task{}
	b := &Task{}
	sched.InitTask(a, "a", 0, 0, 4096, 0)
	sched.InitTask(b, "b", 0, 0, 4096, 0)
	sched.Start(a)
	sched.Start(b)

	first := sched.Select()
	if first != a {
		t.Fatalf("first Select = %v, want a", first.Name)
	}
	if first.State() != Running {
		t.Error("selected task should be Running")
	}

	second := sched.Select()
	if second != b {
		t.Fatalf("second Select = %v, want b", second.Name)
	}

	third := sched.Select()
	if third != a {
		t.Fatalf("third Select = %v, want a (wrapped around)", third.Name)
	}
}

func TestSelectFallsBackToIdleWhenEmpty(t *testing.T) {
	sched, _ := newTestScheduler(t)
	next := sched.Select()
	if next.Name != "idle" {
		t.Fatalf("Select with no ready tasks = %v, want idle", next.Name)
	}
}

func TestExitMovesToDyingThenReap(t *testing.T) {
	sched, _ := newTestScheduler(t)

	task := &Task{}
	sched.InitTask(task, "doomed", 0, 0, 4096, 0)
	sched.Start(task)
	sched.Select() // make it current so Exit operates on it

	reaped := false
	task.OnReap = func() { reaped = true }

	sched.Exit()
	if task.State() != Dying {
		t.Fatalf("state after Exit = %v, want Dying", task.State())
	}
	if sched.DyingCount() != 1 {
		t.Fatalf("DyingCount = %d, want 1", sched.DyingCount())
	}

	sched.Select() // the switch Exit requested lands on idle, which reaps
	sched.ReapDying()
	if !reaped {
		t.Error("OnReap hook was not invoked")
	}
	if sched.DyingCount() != 0 {
		t.Errorf("DyingCount after reap = %d, want 0", sched.DyingCount())
	}
	if sched.Current() == task {
		t.Error("current task should never be the reaped task")
	}
}

func TestExitOfIdleTaskPanics(t *testing.T) {
	sched, _ := newTestScheduler(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic exiting the idle task")
		}
	}()
	sched.Exit()
}

func TestSignalWakesSleepingTask(t *testing.T) {
	sched, _ := newTestScheduler(t)

	task := &Task{}
	sched.InitTask(task, "waiter", 0, 0, 4096, 0)
	sched.Start(task)
	sched.Select()

	sigs, woke := sched.Wait(SignalMask(PORT_RXREADY))
	if woke {
		t.Fatalf("Wait should have blocked, got sigs=0x%x", sigs)
	}
	if task.State() != Sleeping {
		t.Fatalf("state after blocking Wait = %v, want Sleeping", task.State())
	}

	if err := sched.Signal(task, PORT_RXREADY); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if task.State() != Ready {
		t.Fatalf("state after Signal = %v, want Ready", task.State())
	}
}

func TestWaitReturnsImmediatelyWhenAlreadySet(t *testing.T) {
	sched, _ := newTestScheduler(t)

	task := &Task{}
	sched.InitTask(task, "t", 0, 0, 4096, 0)
	sched.Start(task)
	sched.Select()

	sched.Signal(task, KSLEEP)

	sigs, woke := sched.Wait(SignalMask(KSLEEP))
	if !woke {
		t.Fatal("Wait should return immediately when the bit is already set")
	}
	if sigs&KSLEEP == 0 {
		t.Error("returned signal set should include KSLEEP")
	}
	if task.sigSet&KSLEEP != 0 {
		t.Error("KSLEEP should be cleared after a matching Wait")
	}
}

func TestSignalToInvalidTaskStateFails(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := &Task{}
	sched.InitTask(task, "idle-state", 0, 0, 4096, 0)
	// task is still Idle, not Sleeping/Ready/Running
	if err := sched.Signal(task, KSLEEP); err == nil {
		t.Error("Signal to an Idle task should fail")
	}
}
