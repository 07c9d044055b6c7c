package richtext

import (
	"reflect"
	"testing"

	"github.com/synckit/core/internal/crdt/text"
)

// TestS3BoundaryFormatRace reproduces spec scenario S3: replica A formats
// [0,5) bold, replica B concurrently formats [3,8) italic over "Hello
// World". Both replicas converge on identical merged ranges.
func TestS3BoundaryFormatRace(t *testing.T) {
	schema := Schema{}

	ta := text.New("a")
	textOps, _ := ta.Insert(0, "Hello World")
	ra := New("a", ta, schema)

	tb := text.New("b")
	for _, op := range textOps {
		tb.ApplyRemote(op)
	}
	rb := New("b", tb, schema)

	opBold, err := ra.Format(0, 5, map[string]AttrValue{"bold": true})
	if err != nil {
		t.Fatal(err)
	}
	opItalic, err := rb.Format(3, 8, map[string]AttrValue{"italic": true})
	if err != nil {
		t.Fatal(err)
	}

	ra.ApplyRemote(opItalic)
	rb.ApplyRemote(opBold)

	rangesA := ra.GetRanges()
	rangesB := rb.GetRanges()
	if !reflect.DeepEqual(rangesA, rangesB) {
		t.Fatalf("replicas diverged: a=%+v b=%+v", rangesA, rangesB)
	}

	want := []Range{
		{Text: "Hel", Attrs: map[string]AttrValue{"bold": true}},
		{Text: "lo", Attrs: map[string]AttrValue{"bold": true, "italic": true}},
		{Text: " Wo", Attrs: map[string]AttrValue{"italic": true}},
		{Text: "rld", Attrs: map[string]AttrValue{}},
	}
	if !reflect.DeepEqual(rangesA, want) {
		t.Fatalf("got %+v, want %+v", rangesA, want)
	}

	formats, err := ra.GetFormats(4)
	if err != nil {
		t.Fatal(err)
	}
	if formats["bold"] != true || formats["italic"] != true {
		t.Fatalf("expected position 4 to have both bold and italic, got %v", formats)
	}
}

func TestFormatZeroLength(t *testing.T) {
	doc := text.New("a")
	doc.Insert(0, "hello")
	rt := New("a", doc, Schema{})

	if _, err := rt.Format(2, 2, map[string]AttrValue{"bold": true}); err != nil {
		t.Fatal(err)
	}
	formats, _ := rt.GetFormats(2)
	if formats["bold"] != true {
		t.Fatalf("expected position 2 bold, got %v", formats)
	}
	formats3, _ := rt.GetFormats(3)
	if _, ok := formats3["bold"]; ok {
		t.Fatalf("expected position 3 unaffected, got %v", formats3)
	}
}

func TestUnformatRemovesAttribute(t *testing.T) {
	doc := text.New("a")
	doc.Insert(0, "hello")
	rt := New("a", doc, Schema{})

	rt.Format(0, 5, map[string]AttrValue{"bold": true})
	rt.Unformat(0, 5, map[string]AttrValue{"bold": nil})

	formats, _ := rt.GetFormats(2)
	if _, ok := formats["bold"]; ok {
		t.Fatalf("expected bold removed, got %v", formats)
	}
}

func TestClearFormatsTombstonesSpan(t *testing.T) {
	doc := text.New("a")
	doc.Insert(0, "hello")
	rt := New("a", doc, Schema{})

	rt.Format(0, 5, map[string]AttrValue{"bold": true})
	ops, err := rt.ClearFormats(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 clear op, got %d", len(ops))
	}
	formats, _ := rt.GetFormats(2)
	if len(formats) != 0 {
		t.Fatalf("expected no active formats after clear, got %v", formats)
	}
}

func TestApplyRemoteIdempotent(t *testing.T) {
	a := text.New("a")
	textOps, _ := a.Insert(0, "hello")
	ra := New("a", a, Schema{})

	b := text.New("b")
	for _, op := range textOps {
		b.ApplyRemote(op)
	}
	rb := New("b", b, Schema{})

	op, _ := ra.Format(0, 5, map[string]AttrValue{"bold": true})
	rb.ApplyRemote(op)
	rb.ApplyRemote(op)

	formats, _ := rb.GetFormats(0)
	if formats["bold"] != true {
		t.Fatalf("expected bold to apply exactly once, got %v", formats)
	}
}

func TestClearBeforeFormatBuffers(t *testing.T) {
	a := text.New("a")
	textOps, _ := a.Insert(0, "hello")
	ra := New("a", a, Schema{})

	b := text.New("b")
	for _, op := range textOps {
		b.ApplyRemote(op)
	}
	rb := New("b", b, Schema{})

	opFormat, _ := ra.Format(0, 5, map[string]AttrValue{"bold": true})
	clearOps, _ := ra.ClearFormats(0, 5)

	// Deliver the clear before the format it targets.
	rb.ApplyRemote(clearOps[0])
	rb.ApplyRemote(opFormat)

	formats, _ := rb.GetFormats(2)
	if len(formats) != 0 {
		t.Fatalf("expected span to arrive already tombstoned, got %v", formats)
	}
}

func TestOutOfRangeFormat(t *testing.T) {
	doc := text.New("a")
	doc.Insert(0, "hi")
	rt := New("a", doc, Schema{})
	if _, err := rt.Format(0, 10, map[string]AttrValue{"bold": true}); err == nil {
		t.Fatal("expected OutOfRange error")
	}
}
