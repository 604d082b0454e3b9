// Package port implements the kernel IPC port: a named, reference-
// counted endpoint two tasks connect to exchange message.Message values.
//
// This is a generalization of original_source's port.c. Two gaps in the
// original are filled in rather than left as TODOs, per the decisions
// recorded in this repository's design ledger: Connect/Disconnect (the
// original returns KERN_ERR_UNIMPLEMENTED unconditionally) now implement
// the single-peer case the rest of port.c's peer-teardown logic already
// assumes, and the completion queue (send -> recv -> set-completed) is
// fully wired instead of only commented as "TODO: message pending/
// completed callback".
package port

import (
	"fmt"
	"sync"

	"github.com/nhdewitt/pico32/internal/core"
	"github.com/nhdewitt/pico32/internal/ipc/message"
	"github.com/nhdewitt/pico32/internal/kernerr"
	"github.com/nhdewitt/pico32/internal/klist"
)

// State is a port's lifecycle stage.
type State int

const (
	None State = iota
	Idle
	Running
	Shutdown
	Closed
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Shutdown:
		return "shutdown"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const maxRefcount = 255

type queuedMsg struct {
	node klist.Node
	msg  *message.Message
}

// Port is one endpoint of a kernel IPC connection.
type Port struct {
	mu sync.Mutex

	state State
	name  string
	named bool

	refcount uint16

	peer *Port

	recvList klist.List
	recvNum  int
	recvMax  int

	complList klist.List
	complNum  int
	complMax  int

	// serviceList/serviceNode mirror original_source's service_list: a
	// service port's list of connected peers, and the node each peer is
	// linked onto that list with. Connect only ever establishes the
	// single-peer case (see Connect's doc comment and the design
	// ledger's open-question entry), so serviceList is presently always
	// empty — it is tracked and deregistered on Close anyway, so a
	// future multi-peer Connect has somewhere to register without
	// reshaping Port.
	serviceList klist.List
	serviceNode klist.Node

	owner core.TaskID
	sched *core.Scheduler
}

// Create allocates a port owned by owner, refcount 1, state Idle, no
// name. recvMax/complMax bound the receive and completion queues.
func Create(sched *core.Scheduler, owner core.TaskID, recvMax, complMax int) *Port {
	p := &Port{
		state:    Idle,
		refcount: 1,
		owner:    owner,
		sched:    sched,
		recvMax:  recvMax,
		complMax: complMax,
	}
	p.recvList.Init()
	p.complList.Init()
	p.serviceList.Init()
	p.serviceNode.Init(p)
	return p
}

// SetActive transitions Idle -> Running, making the port eligible to be
// found by Registry.Lookup and to accept sends.
func (p *Port) SetActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Running
}

// State returns the port's current lifecycle state.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// addRefLocked takes a reference, failing with ErrNoSpace at the 8-bit
// refcount ceiling the original kernel enforced.
func (p *Port) addRefLocked() error {
	if p.refcount == maxRefcount {
		return kernerr.ErrNoSpace
	}
	p.refcount++
	return nil
}

// AddRef takes a reference on behalf of a new owner (a lookup result, a
// peer link, a queued message). Release must be called exactly once per
// successful AddRef/Create/Lookup.
func (p *Port) AddRef() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addRefLocked()
}

// Release drops a reference. It does not free the port even at
// refcount 0 — Close/Destroy own teardown; Release only accounts for it,
// matching kern_ipc_port_free_reference_locked.
func (p *Port) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refcount > 0 {
		p.refcount--
	}
}

// Refcount returns the current reference count.
func (p *Port) Refcount() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refcount
}

// Name returns the port's registered name, or "" if unnamed.
func (p *Port) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Shutdown marks the port Shutdown: new sends are rejected, the name is
// unregistered, but queued messages remain deliverable until drained.
func (p *Port) Shutdown(reg *Registry) {
	p.mu.Lock()
	p.state = Shutdown
	p.mu.Unlock()
	if reg != nil {
		reg.deleteNameForPort(p)
	}
}

// Close tears the port down: state -> Closed, releases the peer link
// (each direction releases one reference on the other) and the service
// connection list, flushes queues, and unregisters the port's name.
// Close does not free the port's own allocation — the owner must then
// call Destroy once satisfied refcount has dropped to its own single
// reference.
func (p *Port) Close(reg *Registry) {
	p.mu.Lock()
	p.state = Closed
	p.mu.Unlock()

	if reg != nil {
		reg.deleteNameForPort(p)
	}

	p.mu.Lock()
	peer := p.peer
	p.peer = nil
	p.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peer.peer = nil
		peer.state = Shutdown
		peer.mu.Unlock()
		peer.Release()
		p.Release()
	}

	p.deregisterServiceList()
	p.flushQueues()
}

// deregisterServiceList walks p's service connection list, releasing the
// reference each side holds on the other, mirroring
// _kern_ipc_port_service_list_deregister_locked. Connect never links a
// second peer onto this list (see its doc comment), so the walk is
// presently always a no-op.
func (p *Port) deregisterServiceList() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		n := p.serviceList.PopHead()
		if n == nil {
			break
		}
		rem := n.Owner().(*Port)
		rem.mu.Lock()
		if rem.refcount > 0 {
			rem.refcount--
		}
		rem.mu.Unlock()
		if p.refcount > 0 {
			p.refcount--
		}
	}
}

func (p *Port) flushQueues() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		n := p.recvList.PopHead()
		if n == nil {
			break
		}
		qm := n.Owner().(*queuedMsg)
		qm.msg.State = message.Finished
		p.recvNum--
	}
	for {
		n := p.complList.PopHead()
		if n == nil {
			break
		}
		qm := n.Owner().(*queuedMsg)
		qm.msg.State = message.Finished
		p.complNum--
	}
}

// Destroy releases the port's own allocation. It panics if refcount is
// above 1 (owner's single reference) — a caller must Close and ensure
// every other reference has been released first, matching the original
// kernel's panic-invariant on a non-zero external refcount.
func (p *Port) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refcount > 1 {
		panic(fmt.Sprintf("port: Destroy with refcount %d > 1", p.refcount))
	}
}

// Connect links two ports for bidirectional communication: each takes a
// reference on the other. Only the single-peer case is implemented; a
// port that already has a peer (or that is asked to connect a second
// remote while used as a one-to-many service port) returns
// ErrUnimplemented rather than guess a fan-out policy — see this
// repository's design ledger for that decision.
func Connect(local, remote *Port) error {
	local.mu.Lock()
	defer local.mu.Unlock()
	remote.mu.Lock()
	defer remote.mu.Unlock()

	if local.state != Running || remote.state != Running {
		return kernerr.ErrShutdown
	}
	if local.peer != nil || remote.peer != nil {
		return kernerr.ErrUnimplemented
	}

	if err := remote.addRefLocked(); err != nil {
		return err
	}
	if err := local.addRefLocked(); err != nil {
		remote.refcount--
		return err
	}

	local.peer = remote
	remote.peer = local
	return nil
}

// Disconnect severs a peer link established by Connect, releasing the
// reference each side took on the other.
func Disconnect(local, remote *Port) error {
	local.mu.Lock()
	defer local.mu.Unlock()
	remote.mu.Lock()
	defer remote.mu.Unlock()

	if local.peer != remote || remote.peer != local {
		return kernerr.ErrInvalidArgs
	}

	local.peer = nil
	remote.peer = nil
	if local.refcount > 0 {
		local.refcount--
	}
	if remote.refcount > 0 {
		remote.refcount--
	}
	return nil
}

// Send enqueues msg on remote's receive queue and signals PORT_RXREADY
// to remote's owner. It fails with ErrNoSpace if the queue is full and
// ErrShutdown if remote is not Running.
func Send(local, remote *Port, msg *message.Message) error {
	remote.mu.Lock()
	if remote.state != Running {
		remote.mu.Unlock()
		return kernerr.ErrShutdown
	}
	if remote.recvNum >= remote.recvMax {
		remote.mu.Unlock()
		return kernerr.ErrNoSpace
	}

	msg.Src = local
	msg.Dst = remote
	msg.State = message.Queued

	qm := &queuedMsg{msg: msg}
	qm.node.Init(qm)
	remote.recvList.AddTail(&qm.node)
	remote.recvNum++
	owner := remote.owner
	sched := remote.sched
	remote.mu.Unlock()

	if sched != nil && owner != nil {
		sched.Signal(owner, core.PORT_RXREADY)
	}
	return nil
}

// Recv dequeues the head of the port's receive queue. It returns
// (nil, nil) on an empty queue — per spec, recv on an empty port is not
// an error condition.
func (p *Port) Recv() (*message.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Closed {
		return nil, kernerr.ErrShutdown
	}
	n := p.recvList.PopHead()
	if n == nil {
		return nil, nil
	}
	qm := n.Owner().(*queuedMsg)
	p.recvNum--
	qm.msg.State = message.Received
	return qm.msg, nil
}

// SetMsgCompleted moves msg from Received to Completed and enqueues it
// on the sender's completion queue, signaling PORT_RXREADY to the
// sender's owner so it can collect the reply.
func SetMsgCompleted(msg *message.Message) error {
	src, ok := msg.Src.(*Port)
	if !ok || src == nil {
		return kernerr.ErrInvalidArgs
	}

	src.mu.Lock()
	if src.complNum >= src.complMax {
		src.mu.Unlock()
		return kernerr.ErrNoSpace
	}
	msg.State = message.Completed
	qm := &queuedMsg{msg: msg}
	qm.node.Init(qm)
	src.complList.AddTail(&qm.node)
	src.complNum++
	owner := src.owner
	sched := src.sched
	src.mu.Unlock()

	if sched != nil && owner != nil {
		sched.Signal(owner, core.PORT_RXREADY)
	}
	return nil
}

// RecvCompletion dequeues the head of the port's completion queue, or
// returns nil if it is empty.
func (p *Port) RecvCompletion() *message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.complList.PopHead()
	if n == nil {
		return nil
	}
	qm := n.Owner().(*queuedMsg)
	p.complNum--
	return qm.msg
}
