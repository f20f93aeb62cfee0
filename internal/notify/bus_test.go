package notify

import (
	"context"
	"testing"
	"time"
)

func TestLocalBusFansOut(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recvA := make(chan Envelope, 8)
	recvB := make(chan Envelope, 8)
	bus.Subscribe(ctx, func(e Envelope) { recvA <- e })
	bus.Subscribe(ctx, func(e Envelope) { recvB <- e })

	want := Envelope{RoomID: "room1", Kind: KindMemberJoined, Member: &MemberPayload{UID: "alice"}}
	if err := bus.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, ch := range map[string]chan Envelope{"A": recvA, "B": recvB} {
		select {
		case got := <-ch:
			if got.RoomID != "room1" || got.Kind != KindMemberJoined || got.Member.UID != "alice" {
				t.Errorf("subscriber %s: unexpected envelope %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: envelope never arrived", name)
		}
	}
}

func TestLocalBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recv := make(chan Envelope, 64)
	bus.Subscribe(ctx, func(e Envelope) { recv <- e })

	for i := 0; i < 10; i++ {
		uid := string(rune('a' + i))
		if err := bus.Publish(ctx, Envelope{RoomID: "room1", Kind: KindMemberUpdated, Member: &MemberPayload{UID: uid, SeatIndex: i}}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case got := <-recv:
			if got.Member.SeatIndex != i {
				t.Fatalf("expected envelope %d, got %d", i, got.Member.SeatIndex)
			}
		case <-time.After(time.Second):
			t.Fatalf("envelope %d never arrived", i)
		}
	}
}

func TestLocalBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	subCtx, subCancel := context.WithCancel(context.Background())
	recv := make(chan Envelope, 8)
	bus.Subscribe(subCtx, func(e Envelope) { recv <- e })
	subCancel()

	// Give the delivery goroutine a moment to observe the cancel.
	deadline := time.Now().Add(time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.subs)
		bus.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never removed after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := bus.Publish(context.Background(), Envelope{RoomID: "room1", Kind: KindRoomUpdated}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
	select {
	case e := <-recv:
		t.Fatalf("expected no delivery after cancel, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
