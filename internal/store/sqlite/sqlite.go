package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/greenroom-app/greenroom-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function instead
// of the default schema. Useful for tests.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a sqlite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (uid, username, password_hash, is_guest)
		VALUES (?, ?, ?, 0)
	`
	uid := uuid.NewString()
	result, err := s.db.ExecContext(ctx, query, uid, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	query := `
		INSERT INTO users (uid, username, password_hash, is_guest, session_id)
		VALUES (?, ?, '', 1, ?)
	`
	uid := uuid.NewString()
	guestUsername := "guest_" + sessionID[:8]

	result, err := s.db.ExecContext(ctx, query, uid, guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, uid, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, uid, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE username = ? AND is_guest = 0
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.UID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== RoomStore implementation ====

// InsertRoom inserts a new room row.
func (s *SQLiteStore) InsertRoom(ctx context.Context, room *store.Room) error {
	query := `
		INSERT INTO rooms (id, code, status, host_uid, seed)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, room.ID, room.Code, room.Status, room.HostUID, room.Seed)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert room: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id string) (*store.Room, error) {
	query := `
		SELECT id, code, status, host_uid, seed, created_at
		FROM rooms
		WHERE id = ?
	`
	return s.scanRoom(s.db.QueryRowContext(ctx, query, id))
}

// GetRoomByCode retrieves a room by join code.
func (s *SQLiteStore) GetRoomByCode(ctx context.Context, code string) (*store.Room, error) {
	query := `
		SELECT id, code, status, host_uid, seed, created_at
		FROM rooms
		WHERE code = ?
	`
	return s.scanRoom(s.db.QueryRowContext(ctx, query, code))
}

func (s *SQLiteStore) scanRoom(row *sql.Row) (*store.Room, error) {
	var room store.Room
	var hostUID sql.NullString
	err := row.Scan(
		&room.ID,
		&room.Code,
		&room.Status,
		&hostUID,
		&room.Seed,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	if hostUID.Valid {
		room.HostUID = &hostUID.String
	}
	return &room, nil
}

// UpdateHost sets the room's host uid (nil clears it).
func (s *SQLiteStore) UpdateHost(ctx context.Context, roomID string, hostUID *string) error {
	query := `UPDATE rooms SET host_uid = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, hostUID, roomID)
	if err != nil {
		return fmt.Errorf("update host: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("room: %w", store.ErrNotFound)
	}
	return nil
}

// UpdateRoomStatus moves the room to a new lifecycle status.
func (s *SQLiteStore) UpdateRoomStatus(ctx context.Context, roomID string, status store.RoomStatus) error {
	query := `UPDATE rooms SET status = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, status, roomID)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("room: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MemberStore implementation ====

// InsertMember inserts a member row.
func (s *SQLiteStore) InsertMember(ctx context.Context, m *store.Member) error {
	query := `
		INSERT INTO room_members (room_id, uid, seat_index, display_name, character_id, is_ready)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, m.RoomID, m.UID, m.SeatIndex, m.DisplayName, m.CharacterID, m.IsReady)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert member: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// GetMember retrieves one member by (room, uid).
func (s *SQLiteStore) GetMember(ctx context.Context, roomID, uid string) (*store.Member, error) {
	query := `
		SELECT room_id, uid, seat_index, display_name, character_id, is_ready, joined_at
		FROM room_members
		WHERE room_id = ? AND uid = ?
	`
	var m store.Member
	var characterID sql.NullString
	err := s.db.QueryRowContext(ctx, query, roomID, uid).Scan(
		&m.RoomID,
		&m.UID,
		&m.SeatIndex,
		&m.DisplayName,
		&characterID,
		&m.IsReady,
		&m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query member: %w", err)
	}
	if characterID.Valid {
		m.CharacterID = &characterID.String
	}
	return &m, nil
}

// ListMembers returns the room's members ordered by seat index.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID string) ([]*store.Member, error) {
	query := `
		SELECT room_id, uid, seat_index, display_name, character_id, is_ready, joined_at
		FROM room_members
		WHERE room_id = ?
		ORDER BY seat_index ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []*store.Member
	for rows.Next() {
		var m store.Member
		var characterID sql.NullString
		if err := rows.Scan(&m.RoomID, &m.UID, &m.SeatIndex, &m.DisplayName, &characterID, &m.IsReady, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if characterID.Valid {
			m.CharacterID = &characterID.String
		}
		members = append(members, &m)
	}

	return members, rows.Err()
}

// DeleteMember removes a member and reports how many rows were affected.
func (s *SQLiteStore) DeleteMember(ctx context.Context, roomID, uid string) (int64, error) {
	query := `DELETE FROM room_members WHERE room_id = ? AND uid = ?`
	result, err := s.db.ExecContext(ctx, query, roomID, uid)
	if err != nil {
		return 0, fmt.Errorf("delete member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// SetCharacterGuarded assigns next as the member's character only if the
// stored value still equals expected. The comparison uses IS so a nil
// expectation matches NULL; the partial unique index on (room_id,
// character_id) rejects an assignment someone else already holds.
func (s *SQLiteStore) SetCharacterGuarded(ctx context.Context, roomID, uid string, next, expected *string) error {
	query := `
		UPDATE room_members
		SET character_id = ?
		WHERE room_id = ? AND uid = ? AND character_id IS ?
	`
	result, err := s.db.ExecContext(ctx, query, next, roomID, uid, expected)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("set character: %w", store.ErrConflict)
		}
		return fmt.Errorf("set character: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Zero rows: either the member is gone or the expectation went stale.
	if _, err := s.GetMember(ctx, roomID, uid); err != nil {
		return err
	}
	return fmt.Errorf("set character: %w", store.ErrGuardFailed)
}

// SetReady writes the member's ready flag.
func (s *SQLiteStore) SetReady(ctx context.Context, roomID, uid string, ready bool) error {
	query := `UPDATE room_members SET is_ready = ? WHERE room_id = ? AND uid = ?`
	result, err := s.db.ExecContext(ctx, query, ready, roomID, uid)
	if err != nil {
		return fmt.Errorf("set ready: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("member: %w", store.ErrNotFound)
	}
	return nil
}

// ==== CharacterStore implementation ====

// ListEnabledCharacters returns the assignable character pool.
func (s *SQLiteStore) ListEnabledCharacters(ctx context.Context) ([]*store.Character, error) {
	query := `
		SELECT id, label, model_url, enabled
		FROM characters
		WHERE enabled = 1
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	defer rows.Close()

	var characters []*store.Character
	for rows.Next() {
		var c store.Character
		var modelURL sql.NullString
		if err := rows.Scan(&c.ID, &c.Label, &modelURL, &c.Enabled); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		if modelURL.Valid {
			c.ModelURL = &modelURL.String
		}
		characters = append(characters, &c)
	}

	return characters, rows.Err()
}

// GetCharacter retrieves a catalog entry by ID.
func (s *SQLiteStore) GetCharacter(ctx context.Context, id string) (*store.Character, error) {
	query := `
		SELECT id, label, model_url, enabled
		FROM characters
		WHERE id = ?
	`
	var c store.Character
	var modelURL sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Label, &modelURL, &c.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("character: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query character: %w", err)
	}
	if modelURL.Valid {
		c.ModelURL = &modelURL.String
	}
	return &c, nil
}
