package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/roomcode"
	"github.com/greenroom-app/greenroom-server/internal/store"
)

// allocRetries bounds insert-and-retry loops for room codes and seats.
// Exhaustion surfaces as a "try again" error rather than looping forever.
const allocRetries = 5

// Directory owns room lifecycle: create, join by code, leave, host failover.
type Directory struct {
	store      store.Store
	bus        notify.Bus
	log        *zerolog.Logger
	codeLength int
}

// NewDirectory constructs a room directory.
func NewDirectory(st store.Store, bus notify.Bus, logger *zerolog.Logger, codeLength int) *Directory {
	if codeLength <= 0 {
		codeLength = roomcode.DefaultLength
	}
	return &Directory{
		store:      st,
		bus:        bus,
		log:        logger,
		codeLength: codeLength,
	}
}

// RoomRef identifies a room to the caller of create/join.
type RoomRef struct {
	RoomID string
	Code   string
}

// CreateRoom allocates a fresh room with the caller as host at seat 0.
// Code collisions are retried; a member insert failure after the room row
// succeeded is reported as ErrPartialCreate together with the room reference
// so callers can recover through JoinRoom.
func (d *Directory) CreateRoom(ctx context.Context, uid, displayName string) (*RoomRef, error) {
	var room *store.Room

	for attempt := 0; attempt < allocRetries; attempt++ {
		candidate := &store.Room{
			ID:      uuid.NewString(),
			Code:    roomcode.Generate(d.codeLength),
			Status:  store.RoomStatusLobby,
			HostUID: &uid,
			Seed:    newSeed(),
		}
		err := d.store.InsertRoom(ctx, candidate)
		if err == nil {
			room = candidate
			break
		}
		if errors.Is(err, store.ErrConflict) {
			d.log.Debug().Str("code", candidate.Code).Int("attempt", attempt+1).Msg("room code collision, retrying")
			continue
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}
	if room == nil {
		return nil, ErrAllocationExhausted
	}

	host := &store.Member{
		RoomID:      room.ID,
		UID:         uid,
		SeatIndex:   0,
		DisplayName: displayName,
	}
	if err := d.store.InsertMember(ctx, host); err != nil {
		d.log.Error().Err(err).Str("room_id", room.ID).Msg("host member insert failed after room creation")
		return &RoomRef{RoomID: room.ID, Code: room.Code}, fmt.Errorf("insert host member: %w", ErrPartialCreate)
	}

	d.publishMember(ctx, notify.KindMemberJoined, host)
	d.log.Info().Str("room_id", room.ID).Str("code", room.Code).Str("host_uid", uid).Msg("room created")

	return &RoomRef{RoomID: room.ID, Code: room.Code}, nil
}

// JoinRoom adds the caller to the room identified by code, assigning the
// smallest unused seat. Joining a room you are already in is a no-op success.
func (d *Directory) JoinRoom(ctx context.Context, code, uid, displayName string) (*RoomRef, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	room, err := d.store.GetRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("lookup room: %w", err)
	}
	if room.Status != store.RoomStatusLobby {
		return nil, ErrNotJoinable
	}

	// Idempotency: already a member means success without mutation.
	if _, err := d.store.GetMember(ctx, room.ID, uid); err == nil {
		return &RoomRef{RoomID: room.ID, Code: room.Code}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("membership check: %w", err)
	}

	for attempt := 0; attempt < allocRetries; attempt++ {
		members, err := d.store.ListMembers(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}

		m := &store.Member{
			RoomID:      room.ID,
			UID:         uid,
			SeatIndex:   smallestFreeSeat(members),
			DisplayName: displayName,
		}
		err = d.store.InsertMember(ctx, m)
		if err == nil {
			d.publishMember(ctx, notify.KindMemberJoined, m)
			d.log.Info().Str("room_id", room.ID).Str("uid", uid).Int("seat", m.SeatIndex).Msg("member joined")
			return &RoomRef{RoomID: room.ID, Code: room.Code}, nil
		}
		if errors.Is(err, store.ErrConflict) {
			// Lost the seat race, or the same user raced its own join.
			if _, getErr := d.store.GetMember(ctx, room.ID, uid); getErr == nil {
				return &RoomRef{RoomID: room.ID, Code: room.Code}, nil
			}
			d.log.Debug().Str("room_id", room.ID).Int("seat", m.SeatIndex).Int("attempt", attempt+1).Msg("seat collision, retrying")
			continue
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}

	return nil, ErrSeatAllocationExhausted
}

// LeaveResult reports how many member rows a leave removed (0 or 1).
type LeaveResult struct {
	Removed int64
}

// LeaveRoom removes the caller from the room. Leaving a room you are not in
// is a no-op. If the departing member hosted the room, the member with the
// smallest remaining seat takes over; an emptied room is marked ended with
// no host. A delete affecting anything but exactly one row is an invariant
// breach: it is surfaced as ErrConsistency and failover does not run.
func (d *Directory) LeaveRoom(ctx context.Context, roomID, uid string) (*LeaveResult, error) {
	member, err := d.store.GetMember(ctx, roomID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &LeaveResult{Removed: 0}, nil
		}
		return nil, fmt.Errorf("membership check: %w", err)
	}

	room, err := d.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("lookup room: %w", err)
	}

	count, err := d.store.DeleteMember(ctx, roomID, uid)
	if err != nil {
		return nil, fmt.Errorf("delete member: %w", err)
	}
	if count != 1 {
		d.log.Error().Str("room_id", roomID).Str("uid", uid).Int64("count", count).Msg("leave deleted unexpected row count")
		return nil, fmt.Errorf("leave removed %d rows: %w", count, ErrConsistency)
	}

	d.publishMember(ctx, notify.KindMemberLeft, member)

	if room.HostUID != nil && *room.HostUID == uid {
		if err := d.failoverHost(ctx, room); err != nil {
			return nil, err
		}
	}

	return &LeaveResult{Removed: 1}, nil
}

// failoverHost reassigns the host to the smallest remaining seat, or clears
// it and ends the room when nobody is left.
func (d *Directory) failoverHost(ctx context.Context, room *store.Room) error {
	members, err := d.store.ListMembers(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	if len(members) == 0 {
		if err := d.store.UpdateHost(ctx, room.ID, nil); err != nil {
			return fmt.Errorf("clear host: %w", err)
		}
		if err := d.store.UpdateRoomStatus(ctx, room.ID, store.RoomStatusEnded); err != nil {
			return fmt.Errorf("end room: %w", err)
		}
		d.publishRoom(ctx, room.ID, room.Code, store.RoomStatusEnded, nil)
		d.log.Info().Str("room_id", room.ID).Msg("room emptied, marked ended")
		return nil
	}

	// ListMembers orders by seat, so the first entry holds the smallest.
	next := members[0].UID
	if err := d.store.UpdateHost(ctx, room.ID, &next); err != nil {
		return fmt.Errorf("reassign host: %w", err)
	}
	d.publishRoom(ctx, room.ID, room.Code, room.Status, &next)
	d.log.Info().Str("room_id", room.ID).Str("new_host", next).Msg("host reassigned")
	return nil
}

// smallestFreeSeat picks the first gap in the ascending seat sequence, or
// the next integer past the end. Seats are never renumbered on departure.
func smallestFreeSeat(members []*store.Member) int {
	seat := 0
	for _, m := range members {
		if m.SeatIndex == seat {
			seat++
		} else if m.SeatIndex > seat {
			break
		}
	}
	return seat
}

func (d *Directory) publishMember(ctx context.Context, kind notify.Kind, m *store.Member) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, notify.Envelope{
		RoomID: m.RoomID,
		Kind:   kind,
		Member: memberPayload(m),
	}); err != nil {
		d.log.Warn().Err(err).Str("room_id", m.RoomID).Msg("publish member change")
	}
}

func (d *Directory) publishRoom(ctx context.Context, roomID, code string, status store.RoomStatus, hostUID *string) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, notify.Envelope{
		RoomID: roomID,
		Kind:   notify.KindRoomUpdated,
		Room: &notify.RoomPayload{
			ID:      roomID,
			Code:    code,
			Status:  string(status),
			HostUID: hostUID,
		},
	}); err != nil {
		d.log.Warn().Err(err).Str("room_id", roomID).Msg("publish room change")
	}
}

// newSeed mints the per-room random seed clients use for deterministic
// shuffles. 8 bytes of entropy, hex-encoded.
func newSeed() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(fmt.Sprintf("read random seed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// memberPayload converts a store row into its bus representation.
func memberPayload(m *store.Member) *notify.MemberPayload {
	return &notify.MemberPayload{
		UID:         m.UID,
		SeatIndex:   m.SeatIndex,
		DisplayName: m.DisplayName,
		CharacterID: m.CharacterID,
		IsReady:     m.IsReady,
	}
}
