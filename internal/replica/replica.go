// Package replica maintains a client-local copy of one room's state. It is
// updated only two ways: a full snapshot (authoritative) and ordered change
// envelopes from the notifier feed. Duplicate or missed deltas are expected;
// the owner reconciles by re-applying a snapshot.
package replica

import (
	"sort"

	"github.com/greenroom-app/greenroom-server/internal/notify"
)

// Room is the replica's view of the room row.
type Room struct {
	ID      string
	Code    string
	Status  string
	HostUID *string
	Seed    string
}

// Member is the replica's view of one membership row.
type Member struct {
	UID         string
	SeatIndex   int
	DisplayName string
	CharacterID *string
	IsReady     bool
}

// Replica is a read-mostly local copy of room state. It is owned by a single
// session goroutine and is not safe for concurrent use.
type Replica struct {
	room    Room
	members map[string]*Member
}

// New constructs an empty replica for the given room id.
func New(roomID string) *Replica {
	return &Replica{
		room:    Room{ID: roomID},
		members: make(map[string]*Member),
	}
}

// ApplySnapshot replaces the entire state with an authoritative read.
func (r *Replica) ApplySnapshot(room Room, members []Member) {
	r.room = room
	r.members = make(map[string]*Member, len(members))
	for i := range members {
		m := members[i]
		r.members[m.UID] = &m
	}
}

// ApplyEnvelope folds one change feed envelope into the replica. Envelopes
// for other rooms and swap relays are ignored. Application is idempotent so
// duplicated deliveries are harmless.
func (r *Replica) ApplyEnvelope(e notify.Envelope) {
	if e.RoomID != r.room.ID {
		return
	}

	switch e.Kind {
	case notify.KindMemberJoined, notify.KindMemberUpdated:
		if e.Member == nil {
			return
		}
		r.members[e.Member.UID] = &Member{
			UID:         e.Member.UID,
			SeatIndex:   e.Member.SeatIndex,
			DisplayName: e.Member.DisplayName,
			CharacterID: e.Member.CharacterID,
			IsReady:     e.Member.IsReady,
		}
	case notify.KindMemberLeft:
		if e.Member == nil {
			return
		}
		delete(r.members, e.Member.UID)
	case notify.KindRoomUpdated:
		if e.Room == nil {
			return
		}
		r.room.Code = e.Room.Code
		r.room.Status = e.Room.Status
		r.room.HostUID = e.Room.HostUID
	}
}

// Room returns the current room view.
func (r *Replica) Room() Room {
	return r.room
}

// Member returns the member with the given uid, or nil.
func (r *Replica) Member(uid string) *Member {
	return r.members[uid]
}

// CharacterOf returns the member's current character id, or nil when the
// member is unknown or characterless.
func (r *Replica) CharacterOf(uid string) *string {
	m := r.members[uid]
	if m == nil {
		return nil
	}
	return m.CharacterID
}

// Members returns all members ordered by seat index.
func (r *Replica) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatIndex < out[j].SeatIndex })
	return out
}
