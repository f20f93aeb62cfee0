package core

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/store"
	"github.com/greenroom-app/greenroom-server/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestDirectory(t *testing.T, st store.Store) *Directory {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	return NewDirectory(st, notify.NewLocalBus(), &disabledLogger, 5)
}

func TestCreateRoomHostAtSeatZero(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, err := dir.CreateRoom(ctx, "alice", "Alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if len(ref.Code) != 5 {
		t.Errorf("expected 5-char code, got %q", ref.Code)
	}

	room, err := st.GetRoomByID(ctx, ref.RoomID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.Status != store.RoomStatusLobby {
		t.Errorf("expected lobby, got %s", room.Status)
	}
	if room.HostUID == nil || *room.HostUID != "alice" {
		t.Errorf("expected alice as host")
	}

	members, err := st.ListMembers(ctx, ref.RoomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].SeatIndex != 0 || members[0].UID != "alice" {
		t.Fatalf("expected alice at seat 0, got %+v", members)
	}
	if members[0].CharacterID != nil || members[0].IsReady {
		t.Errorf("expected no character and not ready on join")
	}
}

func TestCreateRoomMintsSeed(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, err := dir.CreateRoom(ctx, "alice", "Alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	room, err := st.GetRoomByID(ctx, ref.RoomID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if len(room.Seed) != 16 {
		t.Fatalf("expected 16 hex chars of seed, got %q", room.Seed)
	}
	if _, err := hex.DecodeString(room.Seed); err != nil {
		t.Errorf("seed %q is not hex: %v", room.Seed, err)
	}

	// The seed is fixed at creation and identical on every read path.
	byCode, err := st.GetRoomByCode(ctx, ref.Code)
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if byCode.Seed != room.Seed {
		t.Errorf("seed differs by read path: %q vs %q", byCode.Seed, room.Seed)
	}

	other, err := dir.CreateRoom(ctx, "bob", "Bob")
	if err != nil {
		t.Fatalf("create second room: %v", err)
	}
	otherRoom, err := st.GetRoomByID(ctx, other.RoomID)
	if err != nil {
		t.Fatalf("get second room: %v", err)
	}
	if otherRoom.Seed == room.Seed {
		t.Errorf("expected distinct seeds per room")
	}
}

func TestJoinAssignsSmallestGap(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, err := dir.CreateRoom(ctx, "alice", "Alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	for _, uid := range []string{"bob", "carol", "dave"} {
		if _, err := dir.JoinRoom(ctx, ref.Code, uid, uid); err != nil {
			t.Fatalf("join %s: %v", uid, err)
		}
	}

	// carol (seat 2) leaves; the next join fills the gap.
	if _, err := dir.LeaveRoom(ctx, ref.RoomID, "carol"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := dir.JoinRoom(ctx, ref.Code, "erin", "erin"); err != nil {
		t.Fatalf("join erin: %v", err)
	}

	members, err := st.ListMembers(ctx, ref.RoomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	seats := make(map[string]int)
	for _, m := range members {
		seats[m.UID] = m.SeatIndex
	}
	if seats["erin"] != 2 {
		t.Errorf("expected erin to fill seat 2, got %d", seats["erin"])
	}
	if seats["dave"] != 3 {
		t.Errorf("expected dave to keep seat 3, got %d", seats["dave"])
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, _ := dir.CreateRoom(ctx, "alice", "Alice")
	if _, err := dir.JoinRoom(ctx, ref.Code, "bob", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	again, err := dir.JoinRoom(ctx, ref.Code, "bob", "Bob")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.RoomID != ref.RoomID {
		t.Errorf("expected same room on rejoin")
	}

	members, _ := st.ListMembers(ctx, ref.RoomID)
	if len(members) != 2 {
		t.Fatalf("expected 2 members after rejoin, got %d", len(members))
	}
}

func TestJoinRejections(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	if _, err := dir.JoinRoom(ctx, "NOPE1", "bob", "Bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	ref, _ := dir.CreateRoom(ctx, "alice", "Alice")
	if err := st.UpdateRoomStatus(ctx, ref.RoomID, store.RoomStatusPlaying); err != nil {
		t.Fatalf("set playing: %v", err)
	}
	if _, err := dir.JoinRoom(ctx, ref.Code, "bob", "Bob"); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("expected ErrNotJoinable, got %v", err)
	}
}

func TestLeaveNonMemberIsNoop(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, _ := dir.CreateRoom(ctx, "alice", "Alice")

	res, err := dir.LeaveRoom(ctx, ref.RoomID, "stranger")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Removed != 0 {
		t.Errorf("expected removed 0, got %d", res.Removed)
	}

	// Host unchanged.
	room, _ := st.GetRoomByID(ctx, ref.RoomID)
	if room.HostUID == nil || *room.HostUID != "alice" {
		t.Errorf("expected host untouched by non-member leave")
	}
}

func TestHostFailoverToSmallestSeat(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, _ := dir.CreateRoom(ctx, "alice", "Alice")
	dirJoin(t, dir, ref.Code, "bob")
	dirJoin(t, dir, ref.Code, "carol")

	// bob (seat 1) leaves first so carol (seat 2) holds the larger seat.
	if _, err := dir.LeaveRoom(ctx, ref.RoomID, "bob"); err != nil {
		t.Fatalf("bob leave: %v", err)
	}
	dirJoin(t, dir, ref.Code, "dave") // fills seat 1

	res, err := dir.LeaveRoom(ctx, ref.RoomID, "alice")
	if err != nil {
		t.Fatalf("host leave: %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("expected removed 1, got %d", res.Removed)
	}

	room, _ := st.GetRoomByID(ctx, ref.RoomID)
	if room.HostUID == nil || *room.HostUID != "dave" {
		t.Errorf("expected dave (smallest seat) as new host, got %v", room.HostUID)
	}
}

func TestLastLeaveEndsRoom(t *testing.T) {
	st := newTestStore(t)
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, _ := dir.CreateRoom(ctx, "alice", "Alice")
	if _, err := dir.LeaveRoom(ctx, ref.RoomID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	room, _ := st.GetRoomByID(ctx, ref.RoomID)
	if room.Status != store.RoomStatusEnded {
		t.Errorf("expected ended room, got %s", room.Status)
	}
	if room.HostUID != nil {
		t.Errorf("expected nil host, got %v", *room.HostUID)
	}

	// An ended room is no longer joinable.
	if _, err := dir.JoinRoom(ctx, ref.Code, "bob", "Bob"); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("expected ErrNotJoinable on ended room, got %v", err)
	}
}

// conflictOnceStore injects one seat conflict to exercise the retry loop.
type conflictOnceStore struct {
	store.Store
	fired bool
}

func (c *conflictOnceStore) InsertMember(ctx context.Context, m *store.Member) error {
	if !c.fired && m.UID == "racer" {
		c.fired = true
		return store.ErrConflict
	}
	return c.Store.InsertMember(ctx, m)
}

func TestJoinRetriesLostSeatRace(t *testing.T) {
	st := &conflictOnceStore{Store: newTestStore(t)}
	dir := newTestDirectory(t, st)
	ctx := context.Background()

	ref, _ := dir.CreateRoom(ctx, "alice", "Alice")

	if _, err := dir.JoinRoom(ctx, ref.Code, "racer", "Racer"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !st.fired {
		t.Fatalf("expected the injected conflict to fire")
	}

	members, _ := st.ListMembers(ctx, ref.RoomID)
	if len(members) != 2 {
		t.Fatalf("expected 2 members after retried join, got %d", len(members))
	}
}

func dirJoin(t *testing.T, dir *Directory, code, uid string) {
	t.Helper()
	if _, err := dir.JoinRoom(context.Background(), code, uid, uid); err != nil {
		t.Fatalf("join %s: %v", uid, err)
	}
}
