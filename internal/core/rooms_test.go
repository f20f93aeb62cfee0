package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/store"
)

func newTestRooms(t *testing.T, st store.Store) *Rooms {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	return NewRooms(st, notify.NewLocalBus(), &disabledLogger)
}

// setupLobby creates a room with the given members and returns its id.
func setupLobby(t *testing.T, st store.Store, uids ...string) string {
	t.Helper()

	dir := newTestDirectory(t, st)
	ref, err := dir.CreateRoom(context.Background(), uids[0], uids[0])
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, uid := range uids[1:] {
		dirJoin(t, dir, ref.Code, uid)
	}
	return ref.RoomID
}

func strptr(s string) *string { return &s }

func TestSelectCharacterValidatesCatalog(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)
	ctx := context.Background()
	roomID := setupLobby(t, st, "alice")

	if err := rooms.SelectCharacter(ctx, roomID, "alice", strptr("dragon"), nil); !errors.Is(err, ErrCharacterUnavailable) {
		t.Fatalf("expected ErrCharacterUnavailable for unknown id, got %v", err)
	}

	if err := rooms.SelectCharacter(ctx, roomID, "alice", strptr("boss"), nil); err != nil {
		t.Fatalf("select boss: %v", err)
	}

	m, err := rooms.Member(ctx, roomID, "alice")
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if m.CharacterID == nil || *m.CharacterID != "boss" {
		t.Errorf("expected boss assigned, got %v", m.CharacterID)
	}
}

func TestSelectCharacterGuardAndExclusivity(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)
	ctx := context.Background()
	roomID := setupLobby(t, st, "alice", "bob")

	if err := rooms.SelectCharacter(ctx, roomID, "alice", strptr("boss"), nil); err != nil {
		t.Fatalf("select: %v", err)
	}

	// Stale expectation loses.
	if err := rooms.SelectCharacter(ctx, roomID, "alice", strptr("medic"), nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale guard, got %v", err)
	}

	// Owned character is unavailable to others.
	if err := rooms.SelectCharacter(ctx, roomID, "bob", strptr("boss"), nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on owned character, got %v", err)
	}

	// Clearing with the right expectation frees it.
	if err := rooms.SelectCharacter(ctx, roomID, "alice", nil, strptr("boss")); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := rooms.SelectCharacter(ctx, roomID, "bob", strptr("boss"), nil); err != nil {
		t.Fatalf("expected freed character to assign, got %v", err)
	}

	// Non-member cannot select.
	if err := rooms.SelectCharacter(ctx, roomID, "stranger", strptr("medic"), nil); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

// TestGuardedSequenceSwapsCharacters walks the vacate/take/take write
// sequence two sessions drive during a swap and checks every quiescent
// point keeps single ownership.
func TestGuardedSequenceSwapsCharacters(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)
	ctx := context.Background()
	roomID := setupLobby(t, st, "alice", "bob")

	mustSelect := func(uid string, next, expected *string) {
		t.Helper()
		if err := rooms.SelectCharacter(ctx, roomID, uid, next, expected); err != nil {
			t.Fatalf("select %s: %v", uid, err)
		}
	}

	mustSelect("alice", strptr("boss"), nil)
	mustSelect("bob", strptr("medic"), nil)

	// Acceptor vacates, initiator takes, acceptor takes.
	mustSelect("bob", nil, strptr("medic"))
	mustSelect("alice", strptr("medic"), strptr("boss"))
	mustSelect("bob", strptr("boss"), nil)

	snap, err := rooms.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	chars := make(map[string]string)
	for _, m := range snap.Members {
		if m.CharacterID == nil {
			t.Fatalf("member %s characterless after swap", m.UID)
		}
		chars[m.UID] = *m.CharacterID
	}
	if chars["alice"] != "medic" || chars["bob"] != "boss" {
		t.Fatalf("expected exchanged characters, got %v", chars)
	}
}

func TestToggleReady(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)
	ctx := context.Background()
	roomID := setupLobby(t, st, "alice")

	if err := rooms.ToggleReady(ctx, roomID, "alice"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	m, _ := rooms.Member(ctx, roomID, "alice")
	if !m.IsReady {
		t.Errorf("expected ready after first toggle")
	}

	if err := rooms.ToggleReady(ctx, roomID, "alice"); err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	m, _ = rooms.Member(ctx, roomID, "alice")
	if m.IsReady {
		t.Errorf("expected not ready after second toggle")
	}

	if err := rooms.ToggleReady(ctx, roomID, "stranger"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestStartMatch(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)
	ctx := context.Background()
	roomID := setupLobby(t, st, "alice", "bob")

	if err := rooms.StartMatch(ctx, roomID, "bob"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	if err := rooms.StartMatch(ctx, roomID, "alice"); !errors.Is(err, ErrNotAllReady) {
		t.Fatalf("expected ErrNotAllReady, got %v", err)
	}

	for _, uid := range []string{"alice", "bob"} {
		if err := rooms.ToggleReady(ctx, roomID, uid); err != nil {
			t.Fatalf("toggle %s: %v", uid, err)
		}
	}

	if err := rooms.StartMatch(ctx, roomID, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, _ := rooms.Snapshot(ctx, roomID)
	if snap.Room.Status != store.RoomStatusPlaying {
		t.Errorf("expected playing, got %s", snap.Room.Status)
	}

	// A started room cannot be started twice.
	if err := rooms.StartMatch(ctx, roomID, "alice"); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("expected ErrNotJoinable, got %v", err)
	}
}

func TestSelectCharacterLockedAfterStart(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)
	ctx := context.Background()
	roomID := setupLobby(t, st, "alice", "bob")

	if err := rooms.SelectCharacter(ctx, roomID, "alice", strptr("boss"), nil); err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, uid := range []string{"alice", "bob"} {
		if err := rooms.ToggleReady(ctx, roomID, uid); err != nil {
			t.Fatalf("toggle %s: %v", uid, err)
		}
	}
	if err := rooms.StartMatch(ctx, roomID, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Characters are locked once the match is running.
	if err := rooms.SelectCharacter(ctx, roomID, "bob", strptr("medic"), nil); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("expected ErrNotJoinable after start, got %v", err)
	}
	if err := rooms.SelectCharacter(ctx, roomID, "alice", nil, strptr("boss")); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("expected ErrNotJoinable for vacate after start, got %v", err)
	}

	m, err := rooms.Member(ctx, roomID, "alice")
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if m.CharacterID == nil || *m.CharacterID != "boss" {
		t.Errorf("expected boss kept, got %v", m.CharacterID)
	}

	if err := rooms.SelectCharacter(ctx, "missing", "alice", strptr("boss"), nil); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSnapshotUnknownRoom(t *testing.T) {
	st := newTestStore(t)
	rooms := newTestRooms(t, st)

	if _, err := rooms.Snapshot(context.Background(), "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}
