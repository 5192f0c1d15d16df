// Package sqlite implements the store driver over SQLite. It is intended
// for development and tests; production deployments use PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/banter/internal/profile"
	"github.com/hrygo/banter/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by the profile's DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode and a busy timeout keep the single-writer model
	// workable under the scheduler's concurrency. Each pragma must be
	// prefixed with _pragma= for the modernc.org/sqlite driver.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: a single connection is optimal with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const migrationDDL = `
CREATE TABLE IF NOT EXISTS messages (
	message_id INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	language_code TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS jokes (
	source_message_id INTEGER NOT NULL,
	joke_message_id INTEGER NOT NULL,
	reaction_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_message_id, joke_message_id)
);

CREATE TABLE IF NOT EXISTS user_facts (
	guild_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	updated_ts INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	guild_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	summary TEXT NOT NULL,
	PRIMARY KEY (guild_id, date, user_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	message_id INTEGER PRIMARY KEY,
	guild_id INTEGER NOT NULL,
	channel_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	ts INTEGER NOT NULL,
	reply_to_id INTEGER
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_guild_ts ON chat_messages (guild_id, ts);
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, migrationDDL); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}
