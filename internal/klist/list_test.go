package klist

import "testing"

type item struct {
	node Node
	val  int
}

func TestAddTailOrder(t *testing.T) {
	var l List
	a := &item{val: 1}
	b := &item{val: 2}
	c := &item{val: 3}
	a.node.Init(a)
	b.node.Init(b)
	c.node.Init(c)

	l.AddTail(&a.node)
	l.AddTail(&b.node)
	l.AddTail(&c.node)

	var got []int
	for n := l.Head(); n != nil; n = n.Next() {
		got = append(got, n.Owner().(*item).val)
	}
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
}

func TestDeleteMiddle(t *testing.T) {
	var l List
	a := &item{val: 1}
	b := &item{val: 2}
	c := &item{val: 3}
	a.node.Init(a)
	b.node.Init(b)
	c.node.Init(c)
	l.AddTail(&a.node)
	l.AddTail(&b.node)
	l.AddTail(&c.node)

	l.Delete(&b.node)

	if b.node.Linked() {
		t.Error("deleted node still reports Linked")
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
	if l.Head().Owner().(*item).val != 1 || l.Tail().Owner().(*item).val != 3 {
		t.Error("head/tail not updated correctly after middle delete")
	}
}

func TestRoundRobinRotation(t *testing.T) {
	// This is exactly the pattern task.Select uses: pop head, append tail.
	var l List
	a := &item{val: 1}
	b := &item{val: 2}
	a.node.Init(a)
	b.node.Init(b)
	l.AddTail(&a.node)
	l.AddTail(&b.node)

	n := l.PopHead()
	if n.Owner().(*item).val != 1 {
		t.Fatalf("expected a first")
	}
	l.AddTail(n)

	n = l.PopHead()
	if n.Owner().(*item).val != 2 {
		t.Fatalf("expected b second")
	}
	l.AddTail(n)

	n = l.PopHead()
	if n.Owner().(*item).val != 1 {
		t.Fatalf("expected a again (round robin wrapped)")
	}
}

func TestAddBefore(t *testing.T) {
	var l List
	a := &item{val: 1}
	b := &item{val: 2}
	c := &item{val: 3}
	a.node.Init(a)
	b.node.Init(b)
	c.node.Init(c)
	l.AddTail(&a.node)
	l.AddTail(&c.node)
	l.AddBefore(&c.node, &b.node)

	var got []int
	for n := l.Head(); n != nil; n = n.Next() {
		got = append(got, n.Owner().(*item).val)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEmptyListPopHead(t *testing.T) {
	var l List
	if !l.IsEmpty() {
		t.Fatal("new list should be empty")
	}
	if l.PopHead() != nil {
		t.Error("PopHead on empty list should return nil")
	}
}

func TestAddHeadOfLinkedNodePanics(t *testing.T) {
	var l List
	a := &item{val: 1}
	a.node.Init(a)
	l.AddTail(&a.node)

	defer func() {
		if recover() == nil {
			t.Error("expected panic adding an already-linked node")
		}
	}()
	l.AddHead(&a.node)
}
