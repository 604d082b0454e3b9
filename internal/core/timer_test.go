package core

import (
	"testing"

	"github.com/nhdewitt/pico32/internal/platform"
)

func newTestTimer(t *testing.T) (*Timer, *platform.Sim) {
	t.Helper()
	sim := platform.NewSim(4096)
	var tm Timer
	tm.Init(sim)
	tm.SetTickInterval(100)
	return &tm, sim
}

func TestTimerFiresInOrder(t *testing.T) {
	tm, _ := newTestTimer(t)

	var order []int
	mk := func(id int) *Event {
		var ev Event
		tm.EventSetup(&ev, func(ev *Event, a1, a2 uintptr, a3 uint32) {
			order = append(order, int(a3))
		}, 0, 0, uint32(id))
		return &ev
	}

	e1 := mk(1)
	e2 := mk(2)
	e3 := mk(3)

	tm.EventAdd(e3, 300)
	tm.EventAdd(e1, 100)
	tm.EventAdd(e2, 200)

	for i := 0; i < 3; i++ {
		tm.Tick()
	}

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestTimerWraparound(t *testing.T) {
	tm, _ := newTestTimer(t)
	tm.mu.Lock()
	tm.tickMsec = 0xffffffc0
	tm.mu.Unlock()

	fired := false
	var ev Event
	tm.EventSetup(&ev, func(ev *Event, a1, a2 uintptr, a3 uint32) {
		fired = true
	}, 0, 0, 0)
	tm.EventAdd(&ev, 100)

	// 100/100 = one tick of 100ms should fire it even though tickMsec
	// wraps past the uint32 boundary during the add+tick sequence.
	tm.Tick()

	if !fired {
		t.Error("event should have fired across tick wraparound")
	}
}

func TestEventDelSemantics(t *testing.T) {
	tm, _ := newTestTimer(t)

	var ev Event
	tm.EventSetup(&ev, func(ev *Event, a1, a2 uintptr, a3 uint32) {}, 0, 0, 0)

	// not queued, not active: del is a no-op success
	if !tm.EventDel(&ev) {
		t.Error("EventDel on unqueued event should succeed")
	}

	tm.EventAdd(&ev, 1000)
	if !tm.EventDel(&ev) {
		t.Error("EventDel on queued-not-active event should succeed")
	}
	if ev.queued {
		t.Error("event should no longer be queued after EventDel")
	}
}

func TestEventAddRejectsAlreadyQueued(t *testing.T) {
	tm, _ := newTestTimer(t)
	var ev Event
	tm.EventSetup(&ev, func(ev *Event, a1, a2 uintptr, a3 uint32) {}, 0, 0, 0)

	if !tm.EventAdd(&ev, 500) {
		t.Fatal("first EventAdd should succeed")
	}
	if tm.EventAdd(&ev, 500) {
		t.Error("EventAdd on an already-queued event should fail")
	}
}

func TestEventRearm(t *testing.T) {
	tm, _ := newTestTimer(t)

	fireCount := 0
	var ev Event
	tm.EventSetup(&ev, func(ev *Event, a1, a2 uintptr, a3 uint32) {
		fireCount++
		if fireCount < 3 {
			ev.Rearm = true
			ev.RearmMsec = 100
		}
	}, 0, 0, 0)
	tm.EventAdd(&ev, 100)

	for i := 0; i < 3; i++ {
		tm.Tick()
	}

	if fireCount != 3 {
		t.Errorf("fireCount = %d, want 3 (self-rearm twice)", fireCount)
	}
}

func TestIdleStopsOnlyWhenEmpty(t *testing.T) {
	tm, sim := newTestTimer(t)
	tm.Start()

	var ev Event
	tm.EventSetup(&ev, func(ev *Event, a1, a2 uintptr, a3 uint32) {}, 0, 0, 0)
	tm.EventAdd(&ev, 1000)

	tm.Idle()
	if !tm.running {
		t.Error("timer should stay running while an event is pending")
	}

	tm.EventDel(&ev)
	tm.Idle()
	if tm.running {
		t.Error("timer should stop once the pending list is empty")
	}
	_ = sim
}
