package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hrygo/banter/store"
)

func (d *DB) UpsertUserFacts(ctx context.Context, upsert *store.UserFacts) error {
	query := `
		INSERT INTO user_facts (guild_id, user_id, content, updated_ts)
		VALUES ($1, $2, $3, EXTRACT(EPOCH FROM NOW())::BIGINT)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			content = EXCLUDED.content,
			updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
	`
	if _, err := d.db.ExecContext(ctx, query, upsert.GuildID, upsert.UserID, upsert.Content); err != nil {
		return fmt.Errorf("failed to upsert user facts: %w", err)
	}
	return nil
}

func (d *DB) GetUserFacts(ctx context.Context, guildID, userID int64) (*store.UserFacts, error) {
	query := `SELECT guild_id, user_id, content, updated_ts FROM user_facts WHERE guild_id = $1 AND user_id = $2`
	var f store.UserFacts
	err := d.db.QueryRowContext(ctx, query, guildID, userID).Scan(&f.GuildID, &f.UserID, &f.Content, &f.UpdatedTs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user facts: %w", err)
	}
	return &f, nil
}
