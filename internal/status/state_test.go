package status

import (
	"testing"

	"github.com/ricardofn/chirp/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestSubscribeUnsubscribeCycle(t *testing.T) {
	m := NewMachine(nil)

	if err := m.Transition(Subscribed); err != nil {
		t.Fatalf("DISCONNECTED -> SUBSCRIBED: %v", err)
	}
	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("SUBSCRIBED -> DISCONNECTED: %v", err)
	}
	if err := m.Transition(Subscribed); err != nil {
		t.Fatalf("resubscribe after disconnect: %v", err)
	}
	if m.Current() != Subscribed {
		t.Errorf("state = %s, want SUBSCRIBED", m.Current())
	}
}

func TestSelfTransitionRejected(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Disconnected); err == nil {
		t.Error("Transition(DISCONNECTED -> DISCONNECTED) should fail")
	}

	_ = m.Transition(Subscribed)
	if err := m.Transition(Subscribed); err == nil {
		t.Error("Transition(SUBSCRIBED -> SUBSCRIBED) should fail")
	}
	if m.Current() != Subscribed {
		t.Errorf("state = %s, want SUBSCRIBED (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Subscribed); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Subscribed {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> SUBSCRIBED", change.From, change.To)
	}
}

func TestFailedTransitionEmitsNothing(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Disconnected); err == nil {
		t.Fatal("self transition should fail")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event for rejected transition: %v", evt)
	default:
	}
}
