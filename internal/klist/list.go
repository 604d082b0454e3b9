// Package klist implements the intrusive doubly-linked list every queue
// in the kernel core is built from: the task active/dying lists, the
// timer wheel, and the IPC port queues.
//
// An intrusive list stores the link pointers inside the element itself
// (Node, embedded by value) instead of boxing elements in wrapper nodes,
// so a struct can sit on a list with zero allocation — the same reason
// the original C kernel used one. Design Notes (spec §9) call this out
// explicitly and say a GC'd language may swap it for index-into-arena;
// we keep the intrusive shape because every list here still needs O(1)
// membership removal without walking to find the element, and a task or
// port must never end up accidentally on two lists.
package klist

// Node is embedded in any struct that needs to sit on a List.
type Node struct {
	prev, next *Node
	list       *List // non-nil while linked, used to assert "on one list" ownership
	owner      any
}

// Init resets a node to the detached state. Call once before first use.
func (n *Node) Init(owner any) {
	n.prev = nil
	n.next = nil
	n.list = nil
	n.owner = owner
}

// Owner returns the value Init was called with (typically the struct the
// node is embedded in), used by callers that got a *Node off a list and
// need the containing value back without a container_of cast.
func (n *Node) Owner() any { return n.owner }

// Linked reports whether the node currently sits on a list.
func (n *Node) Linked() bool { return n.list != nil }

// List is the head/tail of a doubly-linked chain of Nodes.
type List struct {
	head, tail *Node
	count      int
}

// Init resets the list to empty. The zero value is already empty; Init
// exists for symmetry with klist.Node.Init and for re-using a List value.
func (l *List) Init() {
	l.head = nil
	l.tail = nil
	l.count = 0
}

// IsEmpty reports whether the list has no nodes.
func (l *List) IsEmpty() bool { return l.head == nil }

// Len returns the number of nodes currently on the list.
func (l *List) Len() int { return l.count }

// Head returns the first node, or nil if the list is empty.
func (l *List) Head() *Node { return l.head }

// Tail returns the last node, or nil if the list is empty.
func (l *List) Tail() *Node { return l.tail }

// Next returns the node following n on its list, or nil at the tail.
func (n *Node) Next() *Node { return n.next }

// Prev returns the node preceding n on its list, or nil at the head.
func (n *Node) Prev() *Node { return n.prev }

// AddHead inserts n at the front of the list. n must not already be linked.
func (l *List) AddHead(n *Node) {
	if n.list != nil {
		panic("klist: AddHead of a node already on a list")
	}
	n.list = l
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.count++
}

// AddTail inserts n at the back of the list. n must not already be linked.
func (l *List) AddTail(n *Node) {
	if n.list != nil {
		panic("klist: AddTail of a node already on a list")
	}
	n.list = l
	n.next = nil
	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.count++
}

// AddBefore inserts n immediately before mark, which must already be on l.
func (l *List) AddBefore(mark, n *Node) {
	if mark.list != l {
		panic("klist: AddBefore mark is not on this list")
	}
	if n.list != nil {
		panic("klist: AddBefore of a node already on a list")
	}
	n.list = l
	n.next = mark
	n.prev = mark.prev
	if mark.prev != nil {
		mark.prev.next = n
	} else {
		l.head = n
	}
	mark.prev = n
	l.count++
}

// Delete removes n from the list. It is a no-op if n is not linked to l.
func (l *List) Delete(n *Node) {
	if n.list != l {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev = nil
	n.next = nil
	n.list = nil
	l.count--
}

// PopHead removes and returns the head node, or nil if empty.
func (l *List) PopHead() *Node {
	n := l.head
	if n == nil {
		return nil
	}
	l.Delete(n)
	return n
}
