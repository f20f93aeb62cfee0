// Package hub fans change feed envelopes out to connected sessions and
// routes addressed swap messages to their single recipient. One hub per
// server instance; cross-instance delivery rides the notify bus.
package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/presence"
)

// Session is one connected client's endpoint as the hub sees it.
type Session struct {
	ID         string
	RoomID     string
	UID        string
	Deliveries chan notify.Envelope
}

// NewSession constructs a registered-endpoint record with a buffered
// delivery channel.
func NewSession(id, roomID, uid string) *Session {
	return &Session{
		ID:         id,
		RoomID:     roomID,
		UID:        uid,
		Deliveries: make(chan notify.Envelope, 64),
	}
}

type hubMsg interface{ isHubMsg() }

type registerMsg struct{ s *Session }
type unregisterMsg struct{ s *Session }
type deliverMsg struct{ e notify.Envelope }
type heartbeatMsg struct{ roomID, uid string }

func (registerMsg) isHubMsg()   {}
func (unregisterMsg) isHubMsg() {}
func (deliverMsg) isHubMsg()    {}
func (heartbeatMsg) isHubMsg()  {}

// Hub is a single-goroutine router over all live sessions.
type Hub struct {
	inbox   chan hubMsg
	bus     notify.Bus
	tracker *presence.Tracker
	log     *zerolog.Logger
	rooms   map[string]map[*Session]struct{}
}

// NewHub constructs a hub over the given bus and presence tracker.
func NewHub(bus notify.Bus, tracker *presence.Tracker, logger *zerolog.Logger) *Hub {
	return &Hub{
		inbox:   make(chan hubMsg, 256),
		bus:     bus,
		tracker: tracker,
		log:     logger,
		rooms:   make(map[string]map[*Session]struct{}),
	}
}

// Register attaches a session to its room's fan-out set.
func (h *Hub) Register(s *Session) {
	h.inbox <- registerMsg{s: s}
}

// Unregister detaches a session. Its delivery channel is closed by the hub.
func (h *Hub) Unregister(s *Session) {
	h.inbox <- unregisterMsg{s: s}
}

// Heartbeat refreshes a session's presence entry.
func (h *Hub) Heartbeat(roomID, uid string) {
	select {
	case h.inbox <- heartbeatMsg{roomID: roomID, uid: uid}:
	default:
		// Presence is advisory; a missed heartbeat refresh is fine.
	}
}

// Run subscribes to the bus and processes hub messages until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.bus.Subscribe(ctx, func(e notify.Envelope) {
		select {
		case h.inbox <- deliverMsg{e: e}:
		case <-ctx.Done():
		}
	})

	sweep := time.NewTicker(h.tracker.SweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-sweep.C:
			h.tracker.Sweep()
		case m := <-h.inbox:
			switch msg := m.(type) {
			case registerMsg:
				h.register(msg.s)
			case unregisterMsg:
				h.unregister(msg.s)
			case deliverMsg:
				h.deliver(msg.e)
			case heartbeatMsg:
				h.tracker.Heartbeat(msg.roomID, msg.uid)
			}
		}
	}
}

func (h *Hub) register(s *Session) {
	room := h.rooms[s.RoomID]
	if room == nil {
		room = make(map[*Session]struct{})
		h.rooms[s.RoomID] = room
	}
	room[s] = struct{}{}
	h.tracker.Track(s.RoomID, s.UID)
	h.log.Debug().Str("room_id", s.RoomID).Str("uid", s.UID).Msg("session registered")
	h.broadcastPresence(s.RoomID)
}

func (h *Hub) unregister(s *Session) {
	room := h.rooms[s.RoomID]
	if room == nil {
		return
	}
	if _, ok := room[s]; !ok {
		return
	}
	delete(room, s)
	close(s.Deliveries)
	if len(room) == 0 {
		delete(h.rooms, s.RoomID)
	}
	h.tracker.Untrack(s.RoomID, s.UID)
	h.log.Debug().Str("room_id", s.RoomID).Str("uid", s.UID).Msg("session unregistered")
	h.broadcastPresence(s.RoomID)
}

// deliver routes one envelope: swap relays go only to the addressed uid,
// everything else to every session in the room.
func (h *Hub) deliver(e notify.Envelope) {
	room := h.rooms[e.RoomID]
	if room == nil {
		return
	}
	for s := range room {
		if e.Kind == notify.KindSwap && s.UID != e.ToUID {
			continue
		}
		h.send(room, s, e)
	}
}

// send pushes an envelope to one session, dropping the session if it cannot
// keep up. It reconnects and reconciles from a fresh snapshot.
func (h *Hub) send(room map[*Session]struct{}, s *Session, e notify.Envelope) {
	select {
	case s.Deliveries <- e:
	default:
		delete(room, s)
		close(s.Deliveries)
		h.tracker.Untrack(s.RoomID, s.UID)
		h.log.Warn().Str("room_id", s.RoomID).Str("uid", s.UID).Msg("dropping slow session")
	}
}

// broadcastPresence delivers the room's current online set to its sessions.
func (h *Hub) broadcastPresence(roomID string) {
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	e := notify.Envelope{
		RoomID: roomID,
		Kind:   notify.KindPresence,
		Online: h.tracker.Online(roomID),
	}
	for s := range room {
		h.send(room, s, e)
	}
}

func (h *Hub) shutdown() {
	for roomID, room := range h.rooms {
		for s := range room {
			close(s.Deliveries)
		}
		delete(h.rooms, roomID)
	}
}
