package awareness

import "testing"

func TestSetLocalIncrementsClock(t *testing.T) {
	a := New("r1", "client-a")
	u1 := a.SetLocal(State(`{"cursor":1}`))
	u2 := a.SetLocal(State(`{"cursor":2}`))
	if u1.Clock != 1 || u2.Clock != 2 {
		t.Fatalf("expected clocks 1,2 got %d,%d", u1.Clock, u2.Clock)
	}
	cs, ok := a.Get("client-a")
	if !ok || string(cs.State) != `{"cursor":2}` {
		t.Fatalf("expected latest local state stored, got %+v", cs)
	}
}

func TestApplyDiscardsStaleClock(t *testing.T) {
	a := New("r1", "client-a")
	a.Apply(Update{ClientID: "client-b", State: State(`{"x":1}`), Clock: 5})
	if applied := a.Apply(Update{ClientID: "client-b", State: State(`{"x":2}`), Clock: 5}); applied {
		t.Fatal("expected equal clock to be discarded")
	}
	if applied := a.Apply(Update{ClientID: "client-b", State: State(`{"x":3}`), Clock: 3}); applied {
		t.Fatal("expected lower clock to be discarded")
	}
	cs, _ := a.Get("client-b")
	if string(cs.State) != `{"x":1}` {
		t.Fatalf("expected original state retained, got %s", cs.State)
	}
}

func TestApplyAcceptsHigherClock(t *testing.T) {
	a := New("r1", "client-a")
	a.Apply(Update{ClientID: "client-b", State: State(`{"x":1}`), Clock: 5})
	if applied := a.Apply(Update{ClientID: "client-b", State: State(`{"x":2}`), Clock: 6}); !applied {
		t.Fatal("expected higher clock to be accepted")
	}
	cs, _ := a.Get("client-b")
	if string(cs.State) != `{"x":2}` {
		t.Fatalf("expected updated state, got %s", cs.State)
	}
}

func TestApplyNilStateEvictsClient(t *testing.T) {
	a := New("r1", "client-a")
	a.Apply(Update{ClientID: "client-b", State: State(`{"x":1}`), Clock: 1})
	a.Apply(Update{ClientID: "client-b", State: nil, Clock: 2})
	if _, ok := a.Get("client-b"); ok {
		t.Fatal("expected leave update to evict the client")
	}
}

func TestCreateLeaveEvictsLocalAndProducesNilState(t *testing.T) {
	a := New("r1", "client-a")
	a.SetLocal(State(`{"x":1}`))
	u := a.CreateLeave()
	if u.State != nil {
		t.Fatalf("expected nil state in leave update, got %s", u.State)
	}
	if _, ok := a.Get("client-a"); ok {
		t.Fatal("expected local client evicted after leave")
	}
}

func TestClientIDsSortedAndStatesSnapshot(t *testing.T) {
	a := New("r1", "client-a")
	a.SetLocal(State(`{}`))
	a.Apply(Update{ClientID: "client-z", State: State(`{}`), Clock: 1})
	a.Apply(Update{ClientID: "client-b", State: State(`{}`), Clock: 1})

	ids := a.ClientIDs()
	if len(ids) != 3 || ids[0] != "client-a" || ids[1] != "client-b" || ids[2] != "client-z" {
		t.Fatalf("expected sorted ids, got %v", ids)
	}

	snap := a.States()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries in snapshot, got %d", len(snap))
	}
}

func TestSubscribeFiresOnLocalAndRemoteChanges(t *testing.T) {
	a := New("r1", "client-a")
	fired := 0
	unsub := a.Subscribe(func(states map[string]ClientState) {
		fired++
	})
	a.SetLocal(State(`{}`))
	a.Apply(Update{ClientID: "client-b", State: State(`{}`), Clock: 1})
	a.CreateLeave()
	if fired != 3 {
		t.Fatalf("expected 3 notifications, got %d", fired)
	}
	unsub()
	a.Apply(Update{ClientID: "client-c", State: State(`{}`), Clock: 1})
	if fired != 3 {
		t.Fatalf("expected no notification after unsubscribe, got %d", fired)
	}
}
