package interview

import "testing"

func TestBroadcasterRoutesBySession(t *testing.T) {
	b := NewBroadcaster(4, nil)
	a := b.Subscribe("a")
	other := b.Subscribe("b")
	defer a.Close()
	defer other.Close()

	b.Emit(Event{Type: EventPhaseChanged, SessionID: "a"})

	select {
	case ev := <-a.Events():
		if ev.Type != EventPhaseChanged {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("subscriber of session a got nothing")
	}
	select {
	case ev := <-other.Events():
		t.Fatalf("subscriber of session b got %+v", ev)
	default:
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(1, nil)
	sub := b.Subscribe("s")

	b.Emit(Event{Type: EventThinkingChanged, SessionID: "s"})
	b.Emit(Event{Type: EventTurnCountChanged, SessionID: "s"})

	ev := <-sub.Events()
	if ev.Type != EventThinkingChanged {
		t.Fatalf("first event should be kept, got %s", ev.Type)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("overflow event should be dropped, got %s", ev.Type)
	default:
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster(0, nil)
	sub := b.Subscribe("s")
	if b.Subscribers("s") != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers("s"))
	}

	sub.Close()
	sub.Close()
	if b.Subscribers("s") != 0 {
		t.Fatalf("Subscribers = %d, want 0", b.Subscribers("s"))
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("channel must be closed")
	}
	b.Emit(Event{Type: EventPhaseChanged, SessionID: "s"})
}

func TestCloseSession(t *testing.T) {
	b := NewBroadcaster(2, nil)
	first := b.Subscribe("s")
	second := b.Subscribe("s")

	b.CloseSession("s")
	for _, sub := range []*Subscription{first, second} {
		if _, ok := <-sub.Events(); ok {
			t.Fatal("subscription should be closed")
		}
	}
	first.Close()
}
