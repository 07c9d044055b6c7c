package undo

import "testing"

func TestAddUndoRedoRoundTrip(t *testing.T) {
	m := New()
	m.Add(Operation{Kind: "text-insert", Data: []byte(`{"pos":0,"text":"h"}`), Timestamp: 1})

	if m.UndoSize() != 1 {
		t.Fatalf("expected undo size 1, got %d", m.UndoSize())
	}

	op, ok := m.Undo()
	if !ok {
		t.Fatal("expected undo to succeed")
	}
	if op.Kind != "text-insert" {
		t.Errorf("unexpected op kind: %s", op.Kind)
	}
	if m.UndoSize() != 0 || m.RedoSize() != 1 {
		t.Fatalf("unexpected stack sizes after undo: undo=%d redo=%d", m.UndoSize(), m.RedoSize())
	}

	if _, ok := m.Redo(); !ok {
		t.Fatal("expected redo to succeed")
	}
	if m.UndoSize() != 1 || m.RedoSize() != 0 {
		t.Fatalf("unexpected stack sizes after redo: undo=%d redo=%d", m.UndoSize(), m.RedoSize())
	}
}

// TestMergeWindow reproduces S6: five inserts within the merge window
// collapse into a single undo stack entry.
func TestMergeWindow(t *testing.T) {
	canMerge := func(prev, next Operation) bool {
		return prev.Kind == "text-insert" && next.Kind == "text-insert"
	}
	concat := func(prev, next Operation) Operation {
		merged := prev
		merged.Data = append(append([]byte{}, prev.Data...), next.Data...)
		merged.Timestamp = next.Timestamp
		return merged
	}
	m := New(WithMergePredicate(canMerge, concat))

	letters := []string{"h", "e", "l", "l", "o"}
	for i, l := range letters {
		m.Add(Operation{Kind: "text-insert", Data: []byte(l), Timestamp: int64(i * 100)})
	}

	if m.UndoSize() != 1 {
		t.Fatalf("expected merged stack of size 1, got %d", m.UndoSize())
	}

	_, ok := m.Undo()
	if !ok {
		t.Fatal("expected undo to succeed")
	}
	if m.UndoSize() != 0 {
		t.Errorf("expected empty undo stack after single undo, got %d", m.UndoSize())
	}
}

func TestAddClearsRedoStack(t *testing.T) {
	m := New()
	m.Add(Operation{Kind: "k", Timestamp: 1})
	m.Undo()
	if m.RedoSize() != 1 {
		t.Fatalf("expected redo size 1, got %d", m.RedoSize())
	}
	m.Add(Operation{Kind: "k2", Timestamp: 2})
	if m.RedoSize() != 0 {
		t.Errorf("expected redo stack cleared by new add, got %d", m.RedoSize())
	}
}

func TestMaxUndoSizeBound(t *testing.T) {
	m := New(WithMaxUndoSize(3))
	for i := 0; i < 10; i++ {
		m.Add(Operation{Kind: "k", Timestamp: int64(i * 10000)})
	}
	if m.UndoSize() != 3 {
		t.Errorf("expected undo stack bounded to 3, got %d", m.UndoSize())
	}
}

func TestClear(t *testing.T) {
	m := New()
	m.Add(Operation{Kind: "k", Timestamp: 1})
	m.Undo()
	m.Clear()
	if m.UndoSize() != 0 || m.RedoSize() != 0 {
		t.Error("expected both stacks empty after Clear")
	}
}
