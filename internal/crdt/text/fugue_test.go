package text

import (
	"testing"
)

func TestInsertBasic(t *testing.T) {
	doc := New("a")
	if _, err := doc.Insert(0, "Hello World"); err != nil {
		t.Fatal(err)
	}
	if got := doc.ToString(); got != "Hello World" {
		t.Fatalf("got %q", got)
	}
}

func TestInsertMiddle(t *testing.T) {
	doc := New("a")
	doc.Insert(0, "Hello World")
	if _, err := doc.Insert(5, ","); err != nil {
		t.Fatal(err)
	}
	if got := doc.ToString(); got != "Hello, World" {
		t.Fatalf("got %q", got)
	}
}

func TestDeleteRange(t *testing.T) {
	doc := New("a")
	doc.Insert(0, "Hello World")
	doc.Delete(5, 11) // removes " World"
	if got := doc.ToString(); got != "Hello" {
		t.Fatalf("got %q", got)
	}
}

func TestOutOfRangeInsert(t *testing.T) {
	doc := New("a")
	if _, err := doc.Insert(5, "x"); err == nil {
		t.Fatal("expected OutOfRange error")
	}
}

func TestOutOfRangeDelete(t *testing.T) {
	doc := New("a")
	doc.Insert(0, "hi")
	if _, err := doc.Delete(0, 5); err == nil {
		t.Fatal("expected OutOfRange error")
	}
}

// TestS1ConcurrentInsertSamePosition reproduces spec scenario S1: replica A
// inserts "Brave " and replica B inserts "Beautiful " at position 6 of
// "Hello World" concurrently (neither has seen the other's op). Applying
// each replica's own op locally and the other's op remotely, in either
// arrival order, must converge to the identical string on both sides.
func TestS1ConcurrentInsertSamePosition(t *testing.T) {
	a := New("a")
	b := New("b")

	base := "Hello World"
	opsA, _ := a.Insert(0, base)
	for _, op := range opsA {
		b.ApplyRemote(op)
	}

	opsBrave, err := a.Insert(6, "Brave ")
	if err != nil {
		t.Fatal(err)
	}
	opsBeautiful, err := b.Insert(6, "Beautiful ")
	if err != nil {
		t.Fatal(err)
	}

	for _, op := range opsBeautiful {
		a.ApplyRemote(op)
	}
	for _, op := range opsBrave {
		b.ApplyRemote(op)
	}

	sa, sb := a.ToString(), b.ToString()
	if sa != sb {
		t.Fatalf("replicas diverged: a=%q b=%q", sa, sb)
	}
	if len(sa) != len("Hello Brave Beautiful World") {
		t.Fatalf("unexpected length, got %q", sa)
	}
}

func TestApplyRemoteIdempotent(t *testing.T) {
	a := New("a")
	b := New("b")
	ops, _ := a.Insert(0, "hi")
	for _, op := range ops {
		b.ApplyRemote(op)
		b.ApplyRemote(op) // re-delivery
	}
	if got := b.ToString(); got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyRemoteBuffersOutOfOrder(t *testing.T) {
	a := New("a")
	b := New("b")
	ops, _ := a.Insert(0, "abc")
	// Deliver out of causal order: last char first.
	b.ApplyRemote(ops[2])
	if got := b.ToString(); got != "" {
		t.Fatalf("expected nothing visible before parent arrives, got %q", got)
	}
	b.ApplyRemote(ops[0])
	b.ApplyRemote(ops[1])
	if got := b.ToString(); got != "abc" {
		t.Fatalf("got %q after draining buffer", got)
	}
}

func TestApplyRemoteDeleteBuffersUntilTargetKnown(t *testing.T) {
	a := New("a")
	b := New("b")
	ops, _ := a.Insert(0, "abc")
	delOps, _ := a.Delete(1, 2) // delete "b"

	b.ApplyRemote(delOps[0]) // arrives before the insert it targets
	for _, op := range ops {
		b.ApplyRemote(op)
	}
	if got := b.ToString(); got != "ac" {
		t.Fatalf("got %q", got)
	}
}

func TestSubscribeFiresOnLocalInsert(t *testing.T) {
	doc := New("a")
	var last string
	doc.Subscribe(func(s string) { last = s })
	doc.Insert(0, "x")
	if last != "x" {
		t.Fatalf("got %q", last)
	}
}

func TestCharAtAndIndexOf(t *testing.T) {
	doc := New("a")
	doc.Insert(0, "abc")
	id, ok := doc.CharAt(1)
	if !ok {
		t.Fatal("expected char at position 1")
	}
	if doc.IndexOf(id) != 1 {
		t.Fatalf("expected index 1, got %d", doc.IndexOf(id))
	}
}

func TestEmptyInsertIsNoop(t *testing.T) {
	doc := New("a")
	ops, err := doc.Insert(0, "")
	if err != nil || ops != nil {
		t.Fatalf("expected no-op, got %v %v", ops, err)
	}
}
