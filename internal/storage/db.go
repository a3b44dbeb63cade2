// Package storage is the room directory: users, rooms, participants, chat
// messages, favorites, bans and the signaling mailbox, all in one SQLite
// database. Every committed mutation notifies per-room subscribers, so
// queries against this package behave like live subscriptions.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced to callers. The gateway maps these to HTTP codes.
var (
	ErrNotFound      = errors.New("not found")
	ErrNotAuthorized = errors.New("not authorized")
	ErrBanned        = errors.New("banned from this room")
	ErrUsernameTaken = errors.New("username already taken")
	ErrInvalidName   = errors.New("invalid name")
)

// DB wraps the SQLite database for one client.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex

	listenerMu sync.RWMutex
	listeners  map[string]map[chan Change]struct{} // roomID → subscribers
}

// Change describes one committed mutation, scoped to a room. Table is the
// logical table that changed ("participants", "messages", "signals", ...).
type Change struct {
	RoomID string
	Table  string
}

// Open opens or creates the SQLite database in the given directory.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dbPath := filepath.Join(dir, "camroom.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Foreign keys and WAL mode for better concurrency.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{
		db:        db,
		path:      dbPath,
		listeners: make(map[string]map[chan Change]struct{}),
	}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	subject    TEXT NOT NULL UNIQUE,
	username   TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	image_url  TEXT NOT NULL DEFAULT '',
	tier       TEXT NOT NULL DEFAULT 'free',
	role       TEXT NOT NULL DEFAULT 'user',
	superuser  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_by_username
	ON users(username) WHERE username != '';

CREATE TABLE IF NOT EXISTS chatrooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	active     INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_participants (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL REFERENCES chatrooms(id),
	user_id      TEXT NOT NULL REFERENCES users(id),
	display_name TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT 'guest',
	joined_at    INTEGER NOT NULL,
	online       INTEGER NOT NULL DEFAULT 0,
	camera_on    INTEGER NOT NULL DEFAULT 0,
	UNIQUE(room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id      TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES chatrooms(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_by_room ON messages(room_id, sent_at);

CREATE TABLE IF NOT EXISTS direct_messages (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL REFERENCES users(id),
	receiver_id TEXT NOT NULL REFERENCES users(id),
	room_id     TEXT NOT NULL REFERENCES chatrooms(id),
	content     TEXT NOT NULL,
	sent_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bans (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL REFERENCES chatrooms(id),
	user_id      TEXT NOT NULL REFERENCES users(id),
	banned_by_id TEXT NOT NULL REFERENCES users(id),
	reason       TEXT NOT NULL DEFAULT '',
	sitewide     INTEGER NOT NULL DEFAULT 0,
	banned_at    INTEGER NOT NULL,
	UNIQUE(room_id, user_id)
);

CREATE TABLE IF NOT EXISTS favorite_rooms (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id),
	room_id      TEXT NOT NULL REFERENCES chatrooms(id),
	favorited_at INTEGER NOT NULL,
	UNIQUE(user_id, room_id)
);

CREATE TABLE IF NOT EXISTS webrtc_signals (
	id            TEXT PRIMARY KEY,
	room_id       TEXT NOT NULL REFERENCES chatrooms(id),
	from_username TEXT NOT NULL,
	to_username   TEXT NOT NULL,
	kind          TEXT NOT NULL,
	payload       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_by_recipient
	ON webrtc_signals(room_id, to_username);
`

// Close closes the database and all subscriber channels.
func (d *DB) Close() error {
	d.listenerMu.Lock()
	for _, subs := range d.listeners {
		for ch := range subs {
			close(ch)
		}
	}
	d.listeners = make(map[string]map[chan Change]struct{})
	d.listenerMu.Unlock()
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SubscribeRoom returns a channel receiving a Change for every committed
// mutation in the given room, and a cancel func. Slow subscribers miss
// events rather than block writers; consumers treat a Change as "re-query
// now", so a missed event is coalesced into the next one.
func (d *DB) SubscribeRoom(roomID string) (<-chan Change, func()) {
	ch := make(chan Change, 32)

	d.listenerMu.Lock()
	subs, ok := d.listeners[roomID]
	if !ok {
		subs = make(map[chan Change]struct{})
		d.listeners[roomID] = subs
	}
	subs[ch] = struct{}{}
	d.listenerMu.Unlock()

	cancel := func() {
		d.listenerMu.Lock()
		if subs, ok := d.listeners[roomID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		}
		d.listenerMu.Unlock()
	}
	return ch, cancel
}

// notify fans a change out to all subscribers of the room. Never blocks.
func (d *DB) notify(roomID, table string) {
	d.listenerMu.RLock()
	for ch := range d.listeners[roomID] {
		select {
		case ch <- Change{RoomID: roomID, Table: table}:
		default:
		}
	}
	d.listenerMu.RUnlock()
}
