package store

import (
	"context"
	"errors"
	"time"
)

// Storage-level sentinel errors. Services translate these into their own
// error taxonomy; handlers never see them directly.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert hits a uniqueness constraint
	// (room code, seat index, character ownership).
	ErrConflict = errors.New("uniqueness conflict")
	// ErrGuardFailed is returned when a conditional update matched zero rows
	// because the expected current value no longer holds.
	ErrGuardFailed = errors.New("guard failed")
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusLobby   RoomStatus = "lobby"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusEnded   RoomStatus = "ended"
)

// User represents an identity in the system.
type User struct {
	ID           int64
	UID          string // stable public identity, UUID
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string
	CreatedAt    time.Time
}

// Room is a lobby grouping members under a join code.
type Room struct {
	ID        string // UUID
	Code      string // short join code, unique
	Status    RoomStatus
	HostUID   *string // nil once the room has emptied
	Seed      string  // per-room random seed, fixed at creation
	CreatedAt time.Time
}

// Member is a participant's per-room record.
type Member struct {
	RoomID      string
	UID         string
	SeatIndex   int
	DisplayName string
	CharacterID *string // nil until the member picks one
	IsReady     bool
	JoinedAt    time.Time
}

// Character is an assignable resource from the catalog.
type Character struct {
	ID       string
	Label    string
	ModelURL *string
	Enabled  bool
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// InsertRoom inserts a new room row. Returns ErrConflict if the code is
	// already taken.
	InsertRoom(ctx context.Context, room *Room) error

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id string) (*Room, error)

	// GetRoomByCode retrieves a room by join code.
	GetRoomByCode(ctx context.Context, code string) (*Room, error)

	// UpdateHost sets the room's host uid (nil clears it).
	UpdateHost(ctx context.Context, roomID string, hostUID *string) error

	// UpdateRoomStatus moves the room to a new lifecycle status.
	UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus) error
}

// MemberStore handles room membership persistence. Seat and character
// uniqueness are enforced by the store itself, not by callers.
type MemberStore interface {
	// InsertMember inserts a member row. Returns ErrConflict if the seat
	// index or the member key is already taken.
	InsertMember(ctx context.Context, m *Member) error

	// GetMember retrieves one member by (room, uid).
	GetMember(ctx context.Context, roomID, uid string) (*Member, error)

	// ListMembers returns the room's members ordered by seat index.
	ListMembers(ctx context.Context, roomID string) ([]*Member, error)

	// DeleteMember removes a member and reports how many rows were affected.
	DeleteMember(ctx context.Context, roomID, uid string) (int64, error)

	// SetCharacterGuarded assigns next as the member's character only if the
	// stored value still equals expected (nil meaning "no character").
	// Returns ErrGuardFailed when the expectation no longer holds and
	// ErrConflict when next is already owned within the room.
	SetCharacterGuarded(ctx context.Context, roomID, uid string, next, expected *string) error

	// SetReady writes the member's ready flag.
	SetReady(ctx context.Context, roomID, uid string, ready bool) error
}

// CharacterStore handles the read-only character catalog.
type CharacterStore interface {
	// ListEnabledCharacters returns the assignable character pool.
	ListEnabledCharacters(ctx context.Context) ([]*Character, error)

	// GetCharacter retrieves a catalog entry by ID.
	GetCharacter(ctx context.Context, id string) (*Character, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MemberStore
	CharacterStore

	// Close closes the underlying database connection.
	Close() error
}
