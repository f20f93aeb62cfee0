// Package session runs one connected client's actor: a single goroutine that
// serializes inbound client commands, change feed deliveries, and timers.
// The actor owns the client's room replica and swap negotiator, which is
// what keeps swap state transitions race-free within one client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/core"
	"github.com/greenroom-app/greenroom-server/internal/hub"
	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/replica"
	"github.com/greenroom-app/greenroom-server/internal/swap"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSelectCharacter picks or clears the member's own character.
	CommandSelectCharacter CommandKind = iota
	// CommandToggleReady flips the member's ready flag.
	CommandToggleReady
	// CommandStartMatch moves the room from lobby to playing (host only).
	CommandStartMatch
	// CommandSwapRequest opens a swap negotiation with another member.
	CommandSwapRequest
	// CommandSwapAccept accepts the pending incoming swap request.
	CommandSwapAccept
	// CommandSwapDecline rejects the pending incoming swap request.
	CommandSwapDecline
	// CommandHeartbeat refreshes the client's presence entry.
	CommandHeartbeat
	// CommandResync asks for a fresh authoritative snapshot.
	CommandResync
)

// Command is one client request, already validated by the transport.
type Command struct {
	Kind        CommandKind
	CharacterID *string // CommandSelectCharacter; nil clears
	ToUID       string  // CommandSwapRequest
}

// EventKind describes what the session tells its client.
type EventKind int

const (
	// EventSnapshot delivers full authoritative room state.
	EventSnapshot EventKind = iota
	// EventMemberJoined, EventMemberUpdated, EventMemberLeft mirror the
	// change feed.
	EventMemberJoined
	EventMemberUpdated
	EventMemberLeft
	// EventRoomUpdated mirrors room status/host changes.
	EventRoomUpdated
	// EventPresence carries the room's online uid set.
	EventPresence
	// EventSwapIncoming surfaces an accepted incoming swap request.
	EventSwapIncoming
	// EventSwapDeclined reports the negotiation was declined or aborted by
	// the counterpart.
	EventSwapDeclined
	// EventSwapCompleted reports the negotiation finished successfully.
	EventSwapCompleted
	// EventSwapFailed reports a local abort: staleness, conflict, timeout,
	// or the acceptor-seatless edge case.
	EventSwapFailed
	// EventError reports a command failure.
	EventError
)

// Event is one message from the session to its client.
type Event struct {
	Kind    EventKind
	Room    replica.Room
	Members []replica.Member
	Member  *replica.Member
	LeftUID string
	Online  []string
	Swap    *swap.Request
	Reason  string
	Code    string
}

// Session is one client's actor. Construct with New, drive with Run.
type Session struct {
	roomID string
	uid    string

	rooms *core.Rooms
	bus   notify.Bus
	hub   *hub.Hub

	endpoint *hub.Session
	rep      *replica.Replica
	neg      *swap.Negotiator

	commands chan Command
	events   chan Event

	reconcileEvery time.Duration
	log            *zerolog.Logger
}

// Config bundles session construction parameters.
type Config struct {
	RoomID         string
	UID            string
	SessionID      string
	Rooms          *core.Rooms
	Bus            notify.Bus
	Hub            *hub.Hub
	SwapTimeout    time.Duration
	ReconcileEvery time.Duration
	Logger         *zerolog.Logger
}

// New constructs a session actor for one connected client.
func New(cfg Config) *Session {
	if cfg.SwapTimeout <= 0 {
		cfg.SwapTimeout = 10 * time.Second
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 15 * time.Second
	}

	rep := replica.New(cfg.RoomID)
	return &Session{
		roomID:         cfg.RoomID,
		uid:            cfg.UID,
		rooms:          cfg.Rooms,
		bus:            cfg.Bus,
		hub:            cfg.Hub,
		endpoint:       hub.NewSession(cfg.SessionID, cfg.RoomID, cfg.UID),
		rep:            rep,
		neg:            swap.NewNegotiator(cfg.RoomID, cfg.UID, rep, cfg.Rooms, cfg.SwapTimeout),
		commands:       make(chan Command, 16),
		events:         make(chan Event, 64),
		reconcileEvery: cfg.ReconcileEvery,
		log:            cfg.Logger,
	}
}

// Commands is where the transport pushes client requests.
func (s *Session) Commands() chan<- Command { return s.commands }

// Events is where the transport reads messages for the client.
func (s *Session) Events() <-chan Event { return s.events }

// Run drives the actor until ctx ends or the hub drops the session.
func (s *Session) Run(ctx context.Context) {
	defer close(s.events)

	if err := s.reconcile(ctx); err != nil {
		s.log.Error().Err(err).Str("room_id", s.roomID).Msg("initial snapshot failed")
		s.emit(Event{Kind: EventError, Code: core.CodeOf(err), Reason: "snapshot failed"})
		return
	}

	s.hub.Register(s.endpoint)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastReconcile := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.hub.Unregister(s.endpoint)
			// Drain until the hub closes our delivery channel.
			for range s.endpoint.Deliveries {
			}
			return

		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)

		case env, ok := <-s.endpoint.Deliveries:
			if !ok {
				// Hub dropped us (slow consumer or shutdown).
				return
			}
			s.handleEnvelope(ctx, env)

		case now := <-ticker.C:
			if expired, peer := s.neg.Tick(now); expired {
				s.log.Debug().Str("peer", peer).Msg("swap negotiation timed out")
				s.emit(Event{Kind: EventSwapFailed, Reason: "swap timed out"})
			}
			if now.Sub(lastReconcile) >= s.reconcileEvery {
				lastReconcile = now
				if err := s.reconcile(ctx); err != nil {
					s.log.Warn().Err(err).Msg("periodic reconcile failed")
				}
			}
		}
	}
}

// reconcile replaces the replica with an authoritative snapshot and emits it.
func (s *Session) reconcile(ctx context.Context) error {
	snap, err := s.rooms.Snapshot(ctx, s.roomID)
	if err != nil {
		return err
	}

	room := replica.Room{
		ID:      snap.Room.ID,
		Code:    snap.Room.Code,
		Status:  string(snap.Room.Status),
		HostUID: snap.Room.HostUID,
		Seed:    snap.Room.Seed,
	}
	members := make([]replica.Member, 0, len(snap.Members))
	for _, m := range snap.Members {
		members = append(members, replica.Member{
			UID:         m.UID,
			SeatIndex:   m.SeatIndex,
			DisplayName: m.DisplayName,
			CharacterID: m.CharacterID,
			IsReady:     m.IsReady,
		})
	}

	s.rep.ApplySnapshot(room, members)
	s.emit(Event{Kind: EventSnapshot, Room: room, Members: members})
	return nil
}

func (s *Session) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CommandSelectCharacter:
		expected := s.rep.CharacterOf(s.uid)
		if err := s.rooms.SelectCharacter(ctx, s.roomID, s.uid, cmd.CharacterID, expected); err != nil {
			s.emitError(err)
		}

	case CommandToggleReady:
		if err := s.rooms.ToggleReady(ctx, s.roomID, s.uid); err != nil {
			s.emitError(err)
		}

	case CommandStartMatch:
		if err := s.rooms.StartMatch(ctx, s.roomID, s.uid); err != nil {
			s.emitError(err)
		}

	case CommandSwapRequest:
		req, err := s.neg.Begin(time.Now(), cmd.ToUID)
		if err != nil {
			s.emitError(err)
			return
		}
		s.publishSwap(ctx, swap.EventRequest, req.ToUID, req)

	case CommandSwapAccept:
		vacated, err := s.neg.Accept(ctx, time.Now())
		if err != nil {
			s.emit(Event{Kind: EventSwapFailed, Reason: err.Error()})
			return
		}
		s.publishSwap(ctx, swap.EventVacated, vacated.ToUID, vacated)

	case CommandSwapDecline:
		decline, err := s.neg.Decline("")
		if err != nil {
			s.emitError(err)
			return
		}
		s.publishSwap(ctx, swap.EventDecline, decline.FromUID, decline)

	case CommandHeartbeat:
		s.hub.Heartbeat(s.roomID, s.uid)

	case CommandResync:
		if err := s.reconcile(ctx); err != nil {
			s.emitError(err)
		}
	}
}

func (s *Session) handleEnvelope(ctx context.Context, env notify.Envelope) {
	if env.Kind == notify.KindSwap {
		s.handleSwap(ctx, env)
		return
	}

	s.rep.ApplyEnvelope(env)

	switch env.Kind {
	case notify.KindMemberJoined, notify.KindMemberUpdated:
		m := s.rep.Member(env.Member.UID)
		if m == nil {
			return
		}
		kind := EventMemberJoined
		if env.Kind == notify.KindMemberUpdated {
			kind = EventMemberUpdated
		}
		s.emit(Event{Kind: kind, Member: m})
	case notify.KindMemberLeft:
		s.emit(Event{Kind: EventMemberLeft, LeftUID: env.Member.UID})
	case notify.KindRoomUpdated:
		s.emit(Event{Kind: EventRoomUpdated, Room: s.rep.Room()})
	case notify.KindPresence:
		s.emit(Event{Kind: EventPresence, Online: env.Online})
	}
}

// handleSwap feeds an addressed swap relay into the negotiator and sends
// whatever the state machine answers with.
func (s *Session) handleSwap(ctx context.Context, env notify.Envelope) {
	if env.Swap == nil {
		return
	}

	switch env.Swap.Event {
	case swap.EventRequest:
		var req swap.Request
		if !decode(env.Swap.Data, &req, s.log) {
			return
		}
		if s.neg.HandleRequest(time.Now(), &req) {
			s.emit(Event{Kind: EventSwapIncoming, Swap: &req})
		}
		// A rejected request is dropped; the initiator's timeout recovers.

	case swap.EventDecline:
		var d swap.Decline
		if !decode(env.Swap.Data, &d, s.log) {
			return
		}
		if s.neg.HandleDecline(&d) {
			s.emit(Event{Kind: EventSwapDeclined, Reason: d.Reason})
		}

	case swap.EventVacated:
		var v swap.Vacated
		if !decode(env.Swap.Data, &v, s.log) {
			return
		}
		done, decline, err := s.neg.HandleVacated(ctx, &v)
		if err != nil {
			if decline != nil {
				s.publishSwap(ctx, swap.EventDecline, decline.ToUID, decline)
			}
			if !errors.Is(err, swap.ErrBadState) {
				s.emit(Event{Kind: EventSwapFailed, Reason: err.Error()})
			}
			return
		}
		s.publishSwap(ctx, swap.EventTakeDone, done.ToUID, done)
		s.emit(Event{Kind: EventSwapCompleted})

	case swap.EventTakeDone:
		var d swap.TakeDone
		if !decode(env.Swap.Data, &d, s.log) {
			return
		}
		if err := s.neg.HandleTakeDone(ctx, &d); err != nil {
			if errors.Is(err, swap.ErrBadState) {
				return
			}
			// Acceptor is left without a character; surface loudly.
			s.log.Error().Err(err).Str("room_id", s.roomID).Str("uid", s.uid).Msg("swap completion failed, member left characterless")
			s.emit(Event{Kind: EventSwapFailed, Reason: err.Error()})
			return
		}
		s.emit(Event{Kind: EventSwapCompleted})
	}
}

// publishSwap relays a handshake message to its addressed recipient via the
// change notifier bus.
func (s *Session) publishSwap(ctx context.Context, event, toUID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("marshal swap message")
		return
	}
	if err := s.bus.Publish(ctx, notify.Envelope{
		RoomID: s.roomID,
		Kind:   notify.KindSwap,
		ToUID:  toUID,
		Swap:   &notify.SwapPayload{Event: event, Data: data},
	}); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("publish swap message")
	}
}

func (s *Session) emitError(err error) {
	s.emit(Event{Kind: EventError, Code: core.CodeOf(err), Reason: err.Error()})
}

// emit pushes an event toward the client, dropping it when the transport
// cannot keep up; the periodic reconcile closes any resulting gap.
func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn().Str("room_id", s.roomID).Str("uid", s.uid).Msg("dropping session event, slow client")
	}
}

func decode(data []byte, v any, log *zerolog.Logger) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Msg("drop malformed swap message")
		return false
	}
	return true
}
