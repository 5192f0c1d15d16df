package postgres

import (
	"context"
	"fmt"

	"github.com/hrygo/banter/store"
)

func (d *DB) InsertDailySummaries(ctx context.Context, rows []*store.DailySummary) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Existing rows win: historical summaries are write-once.
	query := `
		INSERT INTO daily_summaries (guild_id, date, user_id, summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, date, user_id) DO NOTHING
	`
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row.GuildID, row.Date, row.UserID, row.Summary); err != nil {
			return fmt.Errorf("failed to insert daily summary: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DB) ListDailySummaries(ctx context.Context, guildID int64, date string) ([]*store.DailySummary, error) {
	query := `
		SELECT guild_id, date, user_id, summary
		FROM daily_summaries
		WHERE guild_id = $1 AND date = $2
		ORDER BY user_id
	`
	rows, err := d.db.QueryContext(ctx, query, guildID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*store.DailySummary
	for rows.Next() {
		var s store.DailySummary
		if err := rows.Scan(&s.GuildID, &s.Date, &s.UserID, &s.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list daily summaries: %w", err)
	}
	return summaries, nil
}
