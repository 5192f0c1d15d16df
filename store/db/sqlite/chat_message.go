package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hrygo/banter/store"
)

func (d *DB) CreateChatMessage(ctx context.Context, create *store.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (message_id, guild_id, channel_id, user_id, text, ts, reply_to_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET text = EXCLUDED.text
	`
	var replyTo sql.NullInt64
	if create.ReplyToID != nil {
		replyTo = sql.NullInt64{Int64: *create.ReplyToID, Valid: true}
	}
	_, err := d.db.ExecContext(ctx, query,
		create.MessageID, create.GuildID, create.ChannelID, create.UserID, create.Text, create.Ts, replyTo)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

func chatMessageFilter(find *store.FindChatMessages) (string, []any) {
	where := " WHERE guild_id = ?"
	args := []any{find.GuildID}
	if find.ChannelID != nil {
		where += " AND channel_id = ?"
		args = append(args, *find.ChannelID)
	}
	if find.FromTs != nil {
		where += " AND ts >= ?"
		args = append(args, *find.FromTs)
	}
	if find.ToTs != nil {
		where += " AND ts < ?"
		args = append(args, *find.ToTs)
	}
	return where, args
}

func (d *DB) ListChatMessages(ctx context.Context, find *store.FindChatMessages) ([]*store.ChatMessage, error) {
	where, args := chatMessageFilter(find)
	query := `SELECT message_id, guild_id, channel_id, user_id, text, ts, reply_to_id FROM chat_messages` +
		where + " ORDER BY ts, message_id"
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.ChatMessage
	for rows.Next() {
		var m store.ChatMessage
		var replyTo sql.NullInt64
		if err := rows.Scan(&m.MessageID, &m.GuildID, &m.ChannelID, &m.UserID, &m.Text, &m.Ts, &replyTo); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		if replyTo.Valid {
			m.ReplyToID = &replyTo.Int64
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return msgs, nil
}

func (d *DB) CountChatMessages(ctx context.Context, find *store.FindChatMessages) (int, error) {
	where, args := chatMessageFilter(find)
	query := `SELECT COUNT(*) FROM chat_messages` + where
	var n int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chat messages: %w", err)
	}
	return n, nil
}
