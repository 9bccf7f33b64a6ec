package symbol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventsHandledInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var started []string

	handler := func(_ context.Context, _ SymbolIdentifier, ev SymbolEvent) ActionState {
		mu.Lock()
		started = append(started, ev.eventName())
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return StateOnGoing
	}

	l := NewLocker(handler, 0)
	defer l.Close()

	id := SymbolIdentifier{SymbolName: "parse", FSFilePath: "parse.go"}
	events := []SymbolEvent{Edit{}, Edit{}, Outline{}}
	for _, ev := range events {
		if err := l.Send(id, ev); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(started)
		mu.Unlock()
		if n == len(events) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of %d events handled", n, len(events))
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"edit", "edit", "outline"}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("handled order %v, want %v", started, want)
		}
	}
}

func TestDistinctSymbolsRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	aStarted := make(chan struct{})
	bDone := make(chan struct{})

	handler := func(_ context.Context, id SymbolIdentifier, _ SymbolEvent) ActionState {
		switch id.SymbolName {
		case "a":
			close(aStarted)
			<-gate
		case "b":
			close(bDone)
		}
		return StateOnGoing
	}

	l := NewLocker(handler, 0)
	defer l.Close()

	l.Send(SymbolIdentifier{SymbolName: "a"}, Outline{})
	<-aStarted
	l.Send(SymbolIdentifier{SymbolName: "b"}, Outline{})

	// Symbol b must complete even while a is blocked.
	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("symbol b blocked behind unrelated symbol a")
	}
	close(gate)
}

func TestMailboxOverload(t *testing.T) {
	block := make(chan struct{})
	handler := func(context.Context, SymbolIdentifier, SymbolEvent) ActionState {
		<-block
		return StateOnGoing
	}

	const capacity = 4
	l := NewLocker(handler, capacity)
	id := SymbolIdentifier{SymbolName: "busy"}

	// First event is picked up by the handler and blocks; the mailbox then
	// accepts exactly capacity more.
	if err := l.Send(id, Outline{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the handler take the first event

	for i := 0; i < capacity; i++ {
		if err := l.Send(id, Outline{}); err != nil {
			t.Fatalf("send %d rejected with in-flight handler: %v", i, err)
		}
	}
	if err := l.Send(id, Outline{}); !errors.Is(err, ErrSymbolOverloaded) {
		t.Fatalf("expected ErrSymbolOverloaded, got %v", err)
	}

	close(block)
	l.Close()
}

func TestFinishedSymbolEvictedAfterDrain(t *testing.T) {
	handler := func(_ context.Context, _ SymbolIdentifier, ev SymbolEvent) ActionState {
		if _, ok := ev.(Delete); ok {
			return StateFinished
		}
		return StateOnGoing
	}

	l := NewLocker(handler, 0)
	defer l.Close()

	id := SymbolIdentifier{SymbolName: "gone"}
	l.Send(id, Outline{})
	l.Send(id, Delete{})

	deadline := time.After(2 * time.Second)
	for l.Active() != 0 {
		select {
		case <-deadline:
			state, present := l.State(id)
			t.Fatalf("lane not evicted: present=%v state=%v", present, state)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFinishedIsAbsorbing(t *testing.T) {
	gate := make(chan struct{})
	handler := func(_ context.Context, _ SymbolIdentifier, ev SymbolEvent) ActionState {
		if _, ok := ev.(Delete); ok {
			<-gate
			return StateFinished
		}
		// A buggy handler trying to resurrect the symbol.
		return StateOnGoing
	}

	l := NewLocker(handler, 0)
	defer l.Close()

	id := SymbolIdentifier{SymbolName: "done"}
	l.Send(id, Delete{})
	l.Send(id, Outline{}) // queued behind the in-flight Delete
	close(gate)

	// The Outline handler returns OnGoing, but the lane stays Finished and
	// is evicted once the queue drains.
	deadline := time.After(2 * time.Second)
	for l.Active() != 0 {
		select {
		case <-deadline:
			state, present := l.State(id)
			t.Fatalf("finished state overwritten: present=%v state=%v", present, state)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	l := NewLocker(func(context.Context, SymbolIdentifier, SymbolEvent) ActionState {
		return StateOnGoing
	}, 0)
	l.Close()
	if err := l.Send(SymbolIdentifier{SymbolName: "x"}, Outline{}); !errors.Is(err, ErrLockerClosed) {
		t.Fatalf("expected ErrLockerClosed, got %v", err)
	}
}
