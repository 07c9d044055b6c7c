package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/oplog"
	"github.com/synckit/core/internal/storage"
	"github.com/synckit/core/internal/transport"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPushOperationDeliversAcrossManagers(t *testing.T) {
	docA := lww.New("a")
	docB := lww.New("b")

	mgrA := New("a", storage.NewMemoryStore())
	mgrB := New("b", storage.NewMemoryStore())

	adapterA := NewLWWAdapter("doc1", docA)
	adapterB := NewLWWAdapter("doc1", docB)
	mgrA.RegisterDocument(adapterA)
	mgrB.RegisterDocument(adapterB)

	connA, connB := transport.NewPipePair()
	mgrA.Connect(connA)
	mgrB.Connect(connB)

	op := docA.Set("title", "hello")
	payload, _ := json.Marshal(op)
	entry := oplog.Entry{
		ID:          clock.OperationID{Replica: "a", Clock: op.Stamp.Counter},
		DocumentID:  "doc1",
		Kind:        "lww",
		VectorClock: clock.VectorClock{"a": op.Stamp.Counter},
		PhysicalMs:  1,
		Payload:     payload,
	}

	if err := mgrA.PushOperation(context.Background(), entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitFor(t, func() bool {
		v, ok := docB.Get("title")
		return ok && v == "hello"
	})
}

func TestPushOperationQueuesWhenOffline(t *testing.T) {
	mgr := New("a", storage.NewMemoryStore(), WithMaxQueueSize(1))
	doc := lww.New("a")
	mgr.RegisterDocument(NewLWWAdapter("doc1", doc))

	entry := oplog.Entry{
		ID:         clock.OperationID{Replica: "a", Clock: 1},
		DocumentID: "doc1",
		Payload:    []byte(`{}`),
	}
	if err := mgr.PushOperation(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error on first push: %v", err)
	}

	entry2 := entry
	entry2.ID.Clock = 2
	err := mgr.PushOperation(context.Background(), entry2)
	if err == nil {
		t.Fatal("expected QueueFull once high-water mark is exceeded")
	}

	status := mgr.NetworkStatus()
	if status.QueueSize != 1 {
		t.Errorf("expected queue size 1, got %d", status.QueueSize)
	}
}
