// Package pipe implements the kernel's one-way, single-consumer byte
// pipe: many provider tasks queue length-prefixed messages into a fixed
// buffer, and the single owning task dequeues them in order.
//
// original_source's pipe.c stubs kern_ipc_pipe_dequeue_locked and
// kern_ipc_pipe_consume_locked as KERN_ERR_UNIMPLEMENTED — only queue,
// flush (built atop consume) and the lifecycle calls were ever written.
// This package supplements that gap with a real compacting-buffer
// implementation of both, since a pipe a consumer can never read from is
// not useful on its own.
package pipe

import (
	"encoding/binary"
	"sync"

	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/kernerr"
)

// State is a pipe's lifecycle stage.
type State int

const (
	None State = iota
	Open
	Shutdown
	Closed
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Open:
		return "open"
	case Shutdown:
		return "shutdown"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// frameHeaderSize is sizeof(kern_ipc_msg_t) sans its flexible payload:
// a uint16 total length (header + payload) and a uint16 caller-supplied id.
const frameHeaderSize = 4

// Frame is one dequeued message: an opaque id the producer chose, plus
// its payload.
type Frame struct {
	ID      uint16
	Payload []byte
}

// Pipe is a fixed-size byte buffer a set of producers queue into and a
// single owner task drains. Unlike port, a Pipe is not refcounted:
// original_source's design notes call this out explicitly — pipes are
// meant for kernel-internal plumbing (e.g. console IO) where the
// consumer's lifetime is expected to outlive every producer.
type Pipe struct {
	mu sync.Mutex

	owner core.TaskID
	sched *core.Scheduler

	state State

	buf        []byte
	used       uint32
	maxMsgSize uint32
}

// Setup initializes pipe to use buf as its backing storage, with
// maxMsgSize as the largest single queued message (header included).
// The pipe starts Open, matching kern_ipc_pipe_setup.
func Setup(buf []byte, maxMsgSize uint32) *Pipe {
	return &Pipe{
		state:      Open,
		buf:        buf,
		maxMsgSize: maxMsgSize,
	}
}

// SetOwner designates the task that receives PIPE_RXREADY notifications
// and is considered the pipe's consumer.
func (p *Pipe) SetOwner(sched *core.Scheduler, task core.TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sched = sched
	p.owner = task
}

// State returns the pipe's current lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipe) spaceLeftLocked() uint32 {
	return uint32(len(p.buf)) - p.used
}

// Queue appends a message to the pipe and signals PIPE_RXREADY to the
// owner. It fails with ErrShutdown if the pipe is not Open, ErrTooBig if
// the framed message exceeds maxMsgSize, and ErrNoSpace if the buffer
// doesn't currently have room.
func (p *Pipe) Queue(id uint16, payload []byte) error {
	total := uint32(frameHeaderSize + len(payload))

	p.mu.Lock()
	if p.state != Open {
		p.mu.Unlock()
		return kernerr.ErrShutdown
	}
	if total > p.maxMsgSize {
		p.mu.Unlock()
		return kernerr.ErrTooBig
	}
	if total > p.spaceLeftLocked() {
		p.mu.Unlock()
		return kernerr.ErrNoSpace
	}

	off := p.used
	binary.LittleEndian.PutUint16(p.buf[off:off+2], uint16(total))
	binary.LittleEndian.PutUint16(p.buf[off+2:off+4], id)
	copy(p.buf[off+frameHeaderSize:off+total], payload)
	p.used += total

	owner := p.owner
	sched := p.sched
	p.mu.Unlock()

	if sched != nil && owner != nil {
		sched.Signal(owner, core.PIPE_RXREADY)
	}
	return nil
}

// peekHeaderLocked reads the length/id header at the front of the
// buffer. Caller must hold p.mu and must already know p.used > 0.
func (p *Pipe) peekHeaderLocked() (total uint32, id uint16) {
	total = uint32(binary.LittleEndian.Uint16(p.buf[0:2]))
	id = binary.LittleEndian.Uint16(p.buf[2:4])
	return
}

// compactLocked removes the front total bytes and shifts the remainder
// down to offset 0, keeping the buffer a simple append-at-tail region.
func (p *Pipe) compactLocked(total uint32) {
	copy(p.buf[0:p.used-total], p.buf[total:p.used])
	p.used -= total
}

// Dequeue removes and returns the frame at the front of the pipe. It
// returns ErrEmpty if the pipe has no queued data.
func (p *Pipe) Dequeue() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used == 0 {
		return nil, kernerr.ErrEmpty
	}
	total, id := p.peekHeaderLocked()
	payload := make([]byte, total-frameHeaderSize)
	copy(payload, p.buf[frameHeaderSize:total])
	p.compactLocked(total)

	return &Frame{ID: id, Payload: payload}, nil
}

// Consume discards the frame at the front of the pipe without copying
// its payload out, returning its id. Used when a message is too big for
// the caller's buffer or the caller doesn't care about the contents.
func (p *Pipe) Consume() (id uint16, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used == 0 {
		return 0, kernerr.ErrEmpty
	}
	total, id := p.peekHeaderLocked()
	p.compactLocked(total)
	return id, nil
}

// Flush discards every queued frame and reports how many were removed.
func (p *Pipe) Flush() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n uint32
	for p.used > 0 {
		total, _ := p.peekHeaderLocked()
		p.compactLocked(total)
		n++
	}
	return n
}

// Shutdown marks the pipe Shutdown: no new data may be queued, but
// already-buffered frames remain readable until drained. Only the owner
// task should call this.
func (p *Pipe) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Shutdown
}

// Close marks the pipe Closed and flushes any remaining data. Once
// closed a pipe's backing buffer must not be reused. Only the owner task
// should call this.
func (p *Pipe) Close() {
	p.mu.Lock()
	p.state = Closed
	p.mu.Unlock()
	p.Flush()
}
