package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/core"
	"github.com/greenroom-app/greenroom-server/internal/hub"
	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/presence"
	"github.com/greenroom-app/greenroom-server/internal/store"
	"github.com/greenroom-app/greenroom-server/internal/store/sqlite"
)

type testEnv struct {
	store store.Store
	bus   *notify.LocalBus
	hub   *hub.Hub
	rooms *core.Rooms
	dir   *core.Directory
	log   zerolog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := notify.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })

	logger := zerolog.New(nil)
	h := hub.NewHub(bus, presence.NewTracker(presence.DefaultTTL), &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	return &testEnv{
		store: st,
		bus:   bus,
		hub:   h,
		rooms: core.NewRooms(st, bus, &logger),
		dir:   core.NewDirectory(st, bus, &logger, 5),
		log:   logger,
	}
}

func (env *testEnv) startSession(t *testing.T, roomID, uid string) *Session {
	t.Helper()

	s := New(Config{
		RoomID:    roomID,
		UID:       uid,
		SessionID: "sess-" + uid,
		Rooms:     env.rooms,
		Bus:       env.bus,
		Hub:       env.hub,
		Logger:    &env.log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

// awaitEvent reads session events until one of the wanted kind arrives.
func awaitEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed while waiting for kind %d", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("event of kind %d never arrived", kind)
		}
	}
}

func sendCommand(t *testing.T, s *Session, cmd Command) {
	t.Helper()

	select {
	case s.Commands() <- cmd:
	case <-time.After(time.Second):
		t.Fatalf("command channel blocked")
	}
}

func TestSessionEmitsSnapshotFirst(t *testing.T) {
	env := newTestEnv(t)
	ref, err := env.dir.CreateRoom(context.Background(), "alice", "Alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	s := env.startSession(t, ref.RoomID, "alice")

	e := awaitEvent(t, s, EventSnapshot)
	if e.Room.ID != ref.RoomID || e.Room.Status != "lobby" {
		t.Fatalf("unexpected snapshot room: %+v", e.Room)
	}
	if len(e.Members) != 1 || e.Members[0].UID != "alice" {
		t.Fatalf("unexpected snapshot members: %+v", e.Members)
	}
}

func TestSessionSelectCharacterRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref, _ := env.dir.CreateRoom(ctx, "alice", "Alice")
	if _, err := env.dir.JoinRoom(ctx, ref.Code, "bob", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	alice := env.startSession(t, ref.RoomID, "alice")
	bob := env.startSession(t, ref.RoomID, "bob")
	awaitEvent(t, alice, EventSnapshot)
	awaitEvent(t, bob, EventSnapshot)

	boss := "boss"
	sendCommand(t, alice, Command{Kind: CommandSelectCharacter, CharacterID: &boss})

	// Both sessions observe the committed update through the feed.
	for _, s := range []*Session{alice, bob} {
		for {
			e := awaitEvent(t, s, EventMemberUpdated)
			if e.Member.UID == "alice" {
				if e.Member.CharacterID == nil || *e.Member.CharacterID != boss {
					t.Fatalf("unexpected member update: %+v", e.Member)
				}
				break
			}
		}
	}

	// A second select with a now-stale expectation surfaces a conflict.
	// (The session passes its replica's view as the guard, so this
	// exercises the guard against a concurrent grab.)
	sendCommand(t, bob, Command{Kind: CommandSelectCharacter, CharacterID: &boss})
	e := awaitEvent(t, bob, EventError)
	if e.Code != core.ErrCodeConflict {
		t.Fatalf("expected conflict code, got %q", e.Code)
	}
}

func TestSessionResync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref, _ := env.dir.CreateRoom(ctx, "alice", "Alice")

	s := env.startSession(t, ref.RoomID, "alice")
	awaitEvent(t, s, EventSnapshot)

	// Mutate behind the session's back, then ask for a fresh snapshot.
	if err := env.rooms.ToggleReady(ctx, ref.RoomID, "alice"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	sendCommand(t, s, Command{Kind: CommandResync})
	for {
		e := awaitEvent(t, s, EventSnapshot)
		if len(e.Members) == 1 && e.Members[0].IsReady {
			return
		}
	}
}
