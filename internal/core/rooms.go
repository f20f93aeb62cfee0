package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/store"
)

// Rooms owns membership state inside a room: guarded character assignment,
// readiness, snapshots, and the host's match start.
type Rooms struct {
	store store.Store
	bus   notify.Bus
	log   *zerolog.Logger
}

// NewRooms constructs the membership service.
func NewRooms(st store.Store, bus notify.Bus, logger *zerolog.Logger) *Rooms {
	return &Rooms{store: st, bus: bus, log: logger}
}

// SelectCharacter assigns next to the member, guarded on expected being the
// member's current character. Every character mutation in the system routes
// through here: direct selection, swap vacate, swap take. The guard exists
// because callers decide from replica state that may already be stale.
func (r *Rooms) SelectCharacter(ctx context.Context, roomID, uid string, next, expected *string) error {
	room, err := r.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("lookup room: %w", err)
	}
	if room.Status != store.RoomStatusLobby {
		return ErrNotJoinable
	}

	if next != nil {
		c, err := r.store.GetCharacter(ctx, *next)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrCharacterUnavailable
			}
			return fmt.Errorf("lookup character: %w", err)
		}
		if !c.Enabled {
			return ErrCharacterUnavailable
		}
	}

	err = r.store.SetCharacterGuarded(ctx, roomID, uid, next, expected)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrGuardFailed), errors.Is(err, store.ErrConflict):
		return fmt.Errorf("character write lost race: %w", ErrConflict)
	case errors.Is(err, store.ErrNotFound):
		return ErrNotMember
	default:
		return fmt.Errorf("set character: %w", err)
	}

	r.publishMemberUpdate(ctx, roomID, uid)
	return nil
}

// ToggleReady flips the member's ready flag. The read-then-write race is
// benign: no invariant depends on ready ordering.
func (r *Rooms) ToggleReady(ctx context.Context, roomID, uid string) error {
	m, err := r.store.GetMember(ctx, roomID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotMember
		}
		return fmt.Errorf("lookup member: %w", err)
	}

	if err := r.store.SetReady(ctx, roomID, uid, !m.IsReady); err != nil {
		return fmt.Errorf("set ready: %w", err)
	}

	r.publishMemberUpdate(ctx, roomID, uid)
	return nil
}

// Member returns the caller's membership row, or ErrNotMember.
func (r *Rooms) Member(ctx context.Context, roomID, uid string) (*store.Member, error) {
	m, err := r.store.GetMember(ctx, roomID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("lookup member: %w", err)
	}
	return m, nil
}

// RoomSnapshot is a consistent read of a room and its members, ordered by
// seat index. Clients treat it as the source of truth when reconciling.
type RoomSnapshot struct {
	Room    *store.Room
	Members []*store.Member
}

// Snapshot fetches the room and its current membership.
func (r *Rooms) Snapshot(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	room, err := r.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("lookup room: %w", err)
	}

	members, err := r.store.ListMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	return &RoomSnapshot{Room: room, Members: members}, nil
}

// StartMatch transitions the room from lobby to playing. Host only, and only
// once every member is ready.
func (r *Rooms) StartMatch(ctx context.Context, roomID, uid string) error {
	room, err := r.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("lookup room: %w", err)
	}
	if room.Status != store.RoomStatusLobby {
		return ErrNotJoinable
	}
	if room.HostUID == nil || *room.HostUID != uid {
		return ErrNotHost
	}

	members, err := r.store.ListMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	if len(members) == 0 {
		return ErrNotAllReady
	}
	for _, m := range members {
		if !m.IsReady {
			return ErrNotAllReady
		}
	}

	if err := r.store.UpdateRoomStatus(ctx, roomID, store.RoomStatusPlaying); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if r.bus != nil {
		if err := r.bus.Publish(ctx, notify.Envelope{
			RoomID: roomID,
			Kind:   notify.KindRoomUpdated,
			Room: &notify.RoomPayload{
				ID:      roomID,
				Code:    room.Code,
				Status:  string(store.RoomStatusPlaying),
				HostUID: room.HostUID,
			},
		}); err != nil {
			r.log.Warn().Err(err).Str("room_id", roomID).Msg("publish room change")
		}
	}

	r.log.Info().Str("room_id", roomID).Msg("match started")
	return nil
}

// Characters lists the assignable character pool.
func (r *Rooms) Characters(ctx context.Context) ([]*store.Character, error) {
	return r.store.ListEnabledCharacters(ctx)
}

// publishMemberUpdate re-reads the row so the bus carries committed state,
// not the caller's intent.
func (r *Rooms) publishMemberUpdate(ctx context.Context, roomID, uid string) {
	if r.bus == nil {
		return
	}
	m, err := r.store.GetMember(ctx, roomID, uid)
	if err != nil {
		r.log.Warn().Err(err).Str("room_id", roomID).Str("uid", uid).Msg("reload member for publish")
		return
	}
	if err := r.bus.Publish(ctx, notify.Envelope{
		RoomID: roomID,
		Kind:   notify.KindMemberUpdated,
		Member: memberPayload(m),
	}); err != nil {
		r.log.Warn().Err(err).Str("room_id", roomID).Msg("publish member change")
	}
}
