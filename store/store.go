// Package store implements the local SQLite store. Every write lands here
// first; the remote Postgres store only ever sees records the syncer pushes
// out of this one.
package store

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store implements a SQLite store for chats, messages, attachments, branches
// and users.
type Store struct {
	db *sql.DB
}

// New store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY on
	// concurrent table-level writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "creating tables")
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	name TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	creation_timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS users_remote_id ON users (remote_id);
CREATE INDEX IF NOT EXISTS users_email ON users (email);

CREATE TABLE IF NOT EXISTS chats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id TEXT NOT NULL DEFAULT '',
	user_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	model TEXT NOT NULL,
	settings TEXT NOT NULL,
	is_shared INTEGER NOT NULL DEFAULT 0,
	share_id TEXT NOT NULL DEFAULT '',
	creation_timestamp INTEGER NOT NULL,
	update_timestamp INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS chats_user_id ON chats (user_id);
CREATE INDEX IF NOT EXISTS chats_creation_timestamp ON chats (creation_timestamp);
CREATE INDEX IF NOT EXISTS chats_update_timestamp ON chats (update_timestamp);
CREATE INDEX IF NOT EXISTS chats_remote_id ON chats (remote_id);
CREATE INDEX IF NOT EXISTS chats_synced ON chats (synced);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id TEXT NOT NULL DEFAULT '',
	chat_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	role TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	parent_id INTEGER NOT NULL DEFAULT 0,
	branch_id INTEGER NOT NULL DEFAULT 0,
	error INTEGER NOT NULL DEFAULT 0,
	streaming INTEGER NOT NULL DEFAULT 0,
	creation_timestamp INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS messages_chat_id ON messages (chat_id);
CREATE INDEX IF NOT EXISTS messages_parent_id ON messages (parent_id);
CREATE INDEX IF NOT EXISTS messages_branch_id ON messages (branch_id);
CREATE INDEX IF NOT EXISTS messages_creation_timestamp ON messages (creation_timestamp);
CREATE INDEX IF NOT EXISTS messages_remote_id ON messages (remote_id);
CREATE INDEX IF NOT EXISTS messages_synced ON messages (synced);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_id TEXT NOT NULL DEFAULT '',
	message_id INTEGER NOT NULL,
	filename TEXT NOT NULL,
	url TEXT NOT NULL,
	type TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	extracted_text TEXT NOT NULL DEFAULT '',
	analysis TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attachments_message_id ON attachments (message_id);

CREATE TABLE IF NOT EXISTS branches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	parent_message_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	creation_timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS branches_chat_id ON branches (chat_id);
CREATE INDEX IF NOT EXISTS branches_parent_message_id ON branches (parent_message_id);
`

// Transaction runs fn inside a transaction. All writes issued through tx are
// applied atomically; if fn returns an error everything is rolled back.
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
