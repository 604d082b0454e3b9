// Package message implements the IPC message: a variable-length payload
// that moves between ports. Each message reserves its payload space from
// the physical memory allocator (matching original_source's msg.c, which
// allocates the whole header+payload via kern_physmem_alloc) and carries
// a UUID purely for diagnostic correlation across console log lines —
// the wire protocol itself has no notion of a message id.
package message

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nhdewitt/pico32/internal/physmem"
)

// State is a message's position in its port's queue.
type State int

const (
	None State = iota
	Queued
	Received
	Completed
	Finished
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Queued:
		return "queued"
	case Received:
		return "received"
	case Completed:
		return "completed"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Message is a single IPC message in flight between two ports.
type Message struct {
	ID uuid.UUID

	// Src/Dst identify the owning ports by an opaque handle the ipc/port
	// package supplies (a *port.Port); message stays decoupled from
	// port's type to avoid an import cycle (port already depends on
	// message for its queues).
	Src, Dst any

	State   State
	Payload []byte

	physAddr uintptr
	physSize uintptr
}

// Allocate reserves payload space from alloc and returns a ready-to-use
// Message with State None. Free (via the returned Message's Release)
// must be called exactly once the message is no longer referenced by
// any queue.
func Allocate(alloc *physmem.Allocator, size int) (*Message, error) {
	addr, err := alloc.Alloc(uintptr(size))
	if err != nil {
		return nil, fmt.Errorf("message: alloc %d-byte payload: %w", size, err)
	}
	return &Message{
		ID:       uuid.New(),
		Payload:  make([]byte, size),
		physAddr: addr,
		physSize: physmem.RoundPow2(uintptr(size)),
	}, nil
}

// Release returns the message's physmem reservation. It is idempotent-
// unsafe by design, matching kern_ipc_msg_free: callers must not call it
// more than once per message.
func (m *Message) Release(alloc *physmem.Allocator) error {
	return alloc.Free(m.physAddr)
}
