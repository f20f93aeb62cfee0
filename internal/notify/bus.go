// Package notify carries room change events and addressed swap messages
// between the services that mutate state and the sessions that observe it.
// The bus is at-least-once and ordered per room; consumers reconcile with
// snapshot fetches, so duplicates and gaps are tolerated downstream.
package notify

import (
	"context"
	"sync"
)

// Kind discriminates envelope payloads.
type Kind string

const (
	KindMemberJoined  Kind = "member_joined"
	KindMemberUpdated Kind = "member_updated"
	KindMemberLeft    Kind = "member_left"
	KindRoomUpdated   Kind = "room_updated"
	KindSwap          Kind = "swap"

	// KindPresence is emitted by the hub to its local sessions only; it
	// never crosses the bus because each instance tracks its own sockets.
	KindPresence Kind = "presence"
)

// MemberPayload mirrors a membership row at the time of the change.
type MemberPayload struct {
	UID         string  `json:"uid"`
	SeatIndex   int     `json:"seat_index"`
	DisplayName string  `json:"display_name"`
	CharacterID *string `json:"character_id"`
	IsReady     bool    `json:"is_ready"`
}

// RoomPayload mirrors a room row at the time of the change.
type RoomPayload struct {
	ID      string  `json:"id"`
	Code    string  `json:"code"`
	Status  string  `json:"status"`
	HostUID *string `json:"host_uid"`
}

// SwapPayload is an opaque swap handshake message relayed point to point.
// The bus does not interpret it; only the addressed session does.
type SwapPayload struct {
	Event string `json:"event"`
	Data  []byte `json:"data"`
}

// Envelope is one bus message, always scoped to a room. Swap envelopes are
// additionally addressed to a single recipient via ToUID.
type Envelope struct {
	RoomID string         `json:"room_id"`
	Kind   Kind           `json:"kind"`
	Member *MemberPayload `json:"member,omitempty"`
	Room   *RoomPayload   `json:"room,omitempty"`
	ToUID  string         `json:"to_uid,omitempty"`
	Swap   *SwapPayload   `json:"swap,omitempty"`
	Online []string       `json:"online,omitempty"`
}

// Handler consumes envelopes. It must not block; slow consumers lose
// messages rather than stalling publishers.
type Handler func(Envelope)

// Bus fans envelopes out to all subscribers.
type Bus interface {
	// Publish delivers the envelope to every subscriber.
	Publish(ctx context.Context, e Envelope) error

	// Subscribe registers a handler until ctx is cancelled.
	Subscribe(ctx context.Context, fn Handler)

	// Close releases the bus's resources.
	Close() error
}

// LocalBus is the in-process Bus used in single-instance deployments.
type LocalBus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Envelope
}

// NewLocalBus constructs an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan Envelope)}
}

// Publish delivers the envelope to every subscriber. Subscribers whose
// buffers are full miss the message; they recover via snapshot reconcile.
func (b *LocalBus) Publish(_ context.Context, e Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe registers a handler until ctx is cancelled. Delivery runs on a
// dedicated goroutine so handlers see envelopes in publish order.
func (b *LocalBus) Subscribe(ctx context.Context, fn Handler) {
	ch := make(chan Envelope, 256)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				fn(e)
			}
		}
	}()
}

// Close drops all subscribers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]chan Envelope)
	return nil
}
