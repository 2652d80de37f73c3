package realtime

import "testing"

func TestHub_FanOut(t *testing.T) {
	hub := NewHub()

	s1 := hub.Attach(4)
	defer s1.Close()
	s2 := hub.Attach(4)
	defer s2.Close()

	s1.Join("couple:k1")
	s2.Join("couple:k1")

	hub.Emit("couple:k1", Event{Action: "conflict.created", ResourceID: "c1", ActorID: "m1"})

	for i, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.Events():
			if ev.Channel != "couple:k1" || ev.Action != "conflict.created" {
				t.Errorf("subscriber %d got unexpected event %+v", i, ev)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	s := hub.Attach(4)
	defer s.Close()

	s.Join("conflict:c1")
	s.Leave("conflict:c1")

	hub.Emit("conflict:c1", Event{Action: "perspective.saved"})
	select {
	case ev := <-s.Events():
		t.Fatalf("expected no delivery after leave, got %+v", ev)
	default:
	}
}

func TestHub_RefCounting(t *testing.T) {
	hub := NewHub()
	s1 := hub.Attach(1)
	s2 := hub.Attach(1)

	s1.Join("couple:k1")
	s2.Join("couple:k1")
	if n := hub.SubscriberCount("couple:k1"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	// One subscriber leaving must not tear the channel down for the other.
	s1.Close()
	if n := hub.SubscriberCount("couple:k1"); n != 1 {
		t.Fatalf("expected 1 subscriber after close, got %d", n)
	}

	hub.Emit("couple:k1", Event{Action: "conflict.resolved"})
	select {
	case <-s2.Events():
	default:
		t.Fatalf("remaining subscriber should still receive events")
	}

	s2.Close()
	if n := hub.SubscriberCount("couple:k1"); n != 0 {
		t.Fatalf("expected empty channel after last close, got %d", n)
	}
}

func TestHub_SlowConsumerDropsEvents(t *testing.T) {
	hub := NewHub()
	s := hub.Attach(1)
	defer s.Close()
	s.Join("couple:k1")

	// Second emit exceeds the buffer; it must drop rather than block.
	hub.Emit("couple:k1", Event{Action: "first"})
	hub.Emit("couple:k1", Event{Action: "second"})

	ev := <-s.Events()
	if ev.Action != "first" {
		t.Errorf("expected the first event to survive, got %+v", ev)
	}
	select {
	case ev := <-s.Events():
		t.Errorf("expected the overflow event to be dropped, got %+v", ev)
	default:
	}
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	hub := NewHub()
	s := hub.Attach(1)
	s.Join("couple:k1")
	s.Close()
	s.Close()

	// Join after close is ignored.
	s.Join("couple:k2")
	if n := hub.SubscriberCount("couple:k2"); n != 0 {
		t.Fatalf("join after close should be ignored, got %d subscribers", n)
	}
}

func TestNotifier_EmitsBothChannels(t *testing.T) {
	hub := NewHub()
	coupleSub := hub.Attach(4)
	defer coupleSub.Close()
	conflictSub := hub.Attach(4)
	defer conflictSub.Close()

	coupleSub.Join(CoupleChannel("k1"))
	conflictSub.Join(ConflictChannel("c1"))

	n := NewNotifier(hub)
	n.Changed("k1", "c1", "review.accepted", "m1")

	for name, sub := range map[string]*Subscription{"couple": coupleSub, "conflict": conflictSub} {
		select {
		case ev := <-sub.Events():
			if ev.Action != "review.accepted" || ev.ResourceID != "c1" || ev.ActorID != "m1" {
				t.Errorf("%s channel got unexpected event %+v", name, ev)
			}
		default:
			t.Errorf("%s channel received nothing", name)
		}
	}
}

func TestNotifier_SwallowsPanics(t *testing.T) {
	n := NewNotifier(panickyBroadcaster{})
	// Must not propagate; the caller's mutation already committed.
	n.Changed("k1", "c1", "conflict.created", "m1")
}

type panickyBroadcaster struct{}

func (panickyBroadcaster) Emit(string, Event) {
	panic("broker down")
}
