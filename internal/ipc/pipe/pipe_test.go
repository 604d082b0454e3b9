package pipe

import (
	"testing"

	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/kernerr"
	"github.com/nhdewitt/pico32/internal/platform"
)

func newTestScheduler(t *testing.T) (*core.Scheduler, *core.Task) {
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

	owner := &core.Task{}
	sched.InitTask(owner, "owner", 0, 0, 4096, 0)
	sched.Start(owner)

	return &sched, owner
}

func TestQueueDequeueRoundTrip(t *testing.T) {
	p := Setup(make([]byte, 128), 32)

	if err := p.Queue(1, []byte("hello")); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	frame, err := p.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if frame.ID != 1 || string(frame.Payload) != "hello" {
		t.Fatalf("frame = %+v, want id=1 payload=hello", frame)
	}
}

func TestDequeueOnEmptyPipeReturnsErrEmpty(t *testing.T) {
	p := Setup(make([]byte, 64), 32)
	if _, err := p.Dequeue(); err != kernerr.ErrEmpty {
		t.Fatalf("Dequeue on empty = %v, want ErrEmpty", err)
	}
}

func TestQueueRejectsOversizedMessage(t *testing.T) {
	p := Setup(make([]byte, 64), 16)
	if err := p.Queue(1, make([]byte, 32)); err != kernerr.ErrTooBig {
		t.Fatalf("Queue oversized = %v, want ErrTooBig", err)
	}
}

// TestPipeOverflowThenDequeueFreesSpace matches the pipe overflow
// end-to-end scenario: a 128-byte buffer with a 32-byte max message
// size. Four 28-byte-payload messages (32 bytes framed) fill the
// buffer exactly; the fifth fails with ErrNoSpace. Dequeuing one frame
// then makes room for exactly one more.
func TestPipeOverflowThenDequeueFreesSpace(t *testing.T) {
	p := Setup(make([]byte, 128), 32)
	payload := make([]byte, 28) // 4-byte header + 28 = 32 bytes framed

	for i := 0; i < 4; i++ {
		if err := p.Queue(uint16(i), payload); err != nil {
			t.Fatalf("Queue #%d: %v", i, err)
		}
	}

	if err := p.Queue(4, payload); err != kernerr.ErrNoSpace {
		t.Fatalf("5th Queue = %v, want ErrNoSpace", err)
	}

	frame, err := p.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if frame.ID != 0 {
		t.Fatalf("Dequeue returned id %d, want 0 (FIFO order)", frame.ID)
	}

	if err := p.Queue(5, payload); err != nil {
		t.Fatalf("Queue after dequeue freed space: %v", err)
	}
}

func TestConsumeDiscardsPayloadButAdvances(t *testing.T) {
	p := Setup(make([]byte, 64), 32)
	p.Queue(7, []byte("abc"))
	p.Queue(8, []byte("xyz"))

	id, err := p.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if id != 7 {
		t.Fatalf("Consume id = %d, want 7", id)
	}

	frame, err := p.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if frame.ID != 8 || string(frame.Payload) != "xyz" {
		t.Fatalf("frame = %+v, want id=8 payload=xyz", frame)
	}
}

func TestFlushRemovesEverythingAndReportsCount(t *testing.T) {
	p := Setup(make([]byte, 64), 32)
	p.Queue(1, []byte("a"))
	p.Queue(2, []byte("b"))
	p.Queue(3, []byte("c"))

	n := p.Flush()
	if n != 3 {
		t.Fatalf("Flush count = %d, want 3", n)
	}
	if _, err := p.Dequeue(); err != kernerr.ErrEmpty {
		t.Fatalf("Dequeue after flush = %v, want ErrEmpty", err)
	}
}

func TestQueueAfterShutdownFails(t *testing.T) {
	p := Setup(make([]byte, 64), 32)
	p.Shutdown()
	if err := p.Queue(1, []byte("x")); err != kernerr.ErrShutdown {
		t.Fatalf("Queue after shutdown = %v, want ErrShutdown", err)
	}
}

func TestShutdownStillAllowsDrainingExistingData(t *testing.T) {
	p := Setup(make([]byte, 64), 32)
	p.Queue(1, []byte("x"))
	p.Shutdown()

	if _, err := p.Dequeue(); err != nil {
		t.Fatalf("Dequeue after shutdown: %v", err)
	}
}

func TestCloseFlushesRemainingData(t *testing.T) {
	p := Setup(make([]byte, 64), 32)
	p.Queue(1, []byte("x"))
	p.Close()

	if p.State() != Closed {
		t.Fatalf("state after Close = %v, want Closed", p.State())
	}
	if _, err := p.Dequeue(); err != kernerr.ErrEmpty {
		t.Fatalf("Dequeue after Close = %v, want ErrEmpty", err)
	}
}

func TestQueueSignalsOwner(t *testing.T) {
	sched, owner := newTestScheduler(t)
	p := Setup(make([]byte, 64), 32)
	p.SetOwner(sched, owner)

	// Make owner the scheduler's current task and unblock PIPE_RXREADY
	// so Signal's wake check and Wait's mask check both observe it.
	if got := sched.Select(); got != owner {
		t.Fatalf("Select returned %v, want owner", got.Name)
	}
	sched.SetSigmask(0, core.SignalMask(core.PIPE_RXREADY))

	if err := p.Queue(1, []byte("hi")); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	set, ok := sched.Wait(core.SignalMask(core.PIPE_RXREADY))
	if !ok {
		t.Fatal("Wait reported no signal available")
	}
	if set&core.PIPE_RXREADY == 0 {
		t.Fatalf("signal set = %v, want PIPE_RXREADY set", set)
	}
}
