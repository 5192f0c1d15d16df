// Package postgres implements the store driver over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

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

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: postgresDB, profile: profile}
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
	message_id BIGINT PRIMARY KEY,
	content TEXT NOT NULL,
	language_code TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS jokes (
	source_message_id BIGINT NOT NULL,
	joke_message_id BIGINT NOT NULL,
	reaction_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_message_id, joke_message_id)
);

CREATE TABLE IF NOT EXISTS user_facts (
	guild_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	content TEXT NOT NULL,
	updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
	PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	guild_id BIGINT NOT NULL,
	date TEXT NOT NULL,
	user_id BIGINT NOT NULL,
	summary TEXT NOT NULL,
	PRIMARY KEY (guild_id, date, user_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	message_id BIGINT PRIMARY KEY,
	guild_id BIGINT NOT NULL,
	channel_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	text TEXT NOT NULL,
	ts BIGINT NOT NULL,
	reply_to_id BIGINT
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_guild_ts ON chat_messages (guild_id, ts);
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, migrationDDL); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}
