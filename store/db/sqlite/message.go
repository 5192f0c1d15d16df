package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hrygo/banter/store"
)

func (d *DB) UpsertMessage(ctx context.Context, upsert *store.Message) error {
	query := `
		INSERT INTO messages (message_id, content, language_code)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			content = EXCLUDED.content,
			language_code = EXCLUDED.language_code
	`
	if _, err := d.db.ExecContext(ctx, query, upsert.MessageID, upsert.Content, upsert.LanguageCode); err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

func (d *DB) GetMessage(ctx context.Context, messageID int64) (*store.Message, error) {
	query := `SELECT message_id, content, language_code FROM messages WHERE message_id = ?`
	var m store.Message
	err := d.db.QueryRowContext(ctx, query, messageID).Scan(&m.MessageID, &m.Content, &m.LanguageCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

func (d *DB) CreateJokePair(ctx context.Context, source, joke *store.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO messages (message_id, content, language_code)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			content = EXCLUDED.content,
			language_code = EXCLUDED.language_code
	`
	if _, err := tx.ExecContext(ctx, upsert, source.MessageID, source.Content, source.LanguageCode); err != nil {
		return fmt.Errorf("failed to insert source message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, joke.MessageID, joke.Content, joke.LanguageCode); err != nil {
		return fmt.Errorf("failed to insert joke message: %w", err)
	}

	relation := `
		INSERT INTO jokes (source_message_id, joke_message_id, reaction_count)
		VALUES (?, ?, 0)
		ON CONFLICT (source_message_id, joke_message_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, relation, source.MessageID, joke.MessageID); err != nil {
		return fmt.Errorf("failed to upsert joke relation: %w", err)
	}

	return tx.Commit()
}

func (d *DB) AddJokeReaction(ctx context.Context, jokeMessageID int64, delta int) error {
	query := `UPDATE jokes SET reaction_count = reaction_count + ? WHERE joke_message_id = ?`
	if _, err := d.db.ExecContext(ctx, query, delta, jokeMessageID); err != nil {
		return fmt.Errorf("failed to add joke reaction: %w", err)
	}
	return nil
}

func (d *DB) ListJokePairs(ctx context.Context, limit int) ([]*store.JokePair, error) {
	query := `
		SELECT j.source_message_id, s.content, j.joke_message_id, m.content, j.reaction_count
		FROM jokes j
		JOIN messages s ON s.message_id = j.source_message_id
		JOIN messages m ON m.message_id = j.joke_message_id
		ORDER BY j.reaction_count DESC, j.joke_message_id DESC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list joke pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*store.JokePair
	for rows.Next() {
		var p store.JokePair
		if err := rows.Scan(&p.SourceMessageID, &p.SourceContent, &p.JokeMessageID, &p.JokeContent, &p.ReactionCount); err != nil {
			return nil, fmt.Errorf("failed to scan joke pair: %w", err)
		}
		pairs = append(pairs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list joke pairs: %w", err)
	}
	return pairs, nil
}
