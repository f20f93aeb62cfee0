package sqlite

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	uid           TEXT NOT NULL UNIQUE,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_guest      BOOLEAN NOT NULL DEFAULT 0,
	session_id    TEXT,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'lobby',
	host_uid   TEXT,
	seed       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id      TEXT NOT NULL,
	uid          TEXT NOT NULL,
	seat_index   INTEGER NOT NULL,
	display_name TEXT NOT NULL,
	character_id TEXT,
	is_ready     BOOLEAN NOT NULL DEFAULT 0,
	joined_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, uid),
	FOREIGN KEY (room_id) REFERENCES rooms(id),
	UNIQUE (room_id, seat_index)
);

-- At most one owner per character within a room; NULL rows stay free.
CREATE UNIQUE INDEX IF NOT EXISTS idx_room_members_character
	ON room_members(room_id, character_id)
	WHERE character_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS characters (
	id        TEXT PRIMARY KEY,
	label     TEXT NOT NULL,
	model_url TEXT,
	enabled   BOOLEAN NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO characters (id, label, enabled) VALUES
	('boss',   'Boss',   1),
	('medic',  'Medic',  1),
	('scout',  'Scout',  1),
	('tank',   'Tank',   1),
	('wizard', 'Wizard', 1),
	('rogue',  'Rogue',  1);
`

// applySchema creates all tables and indexes if they are missing and seeds
// the default character catalog.
func applySchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
