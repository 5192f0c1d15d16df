package store

import (
	"context"
	"time"
)

// ChatMessage is a normalized copy of an incoming message, kept for later
// daily summarization.
type ChatMessage struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
	UserID    int64
	Text      string
	Ts        int64 // unix seconds, UTC
	ReplyToID *int64
}

// FindChatMessages is the find condition for chat messages.
type FindChatMessages struct {
	GuildID   int64
	ChannelID *int64
	FromTs    *int64
	ToTs      *int64
	Limit     *int
}

// DayRange returns the UTC unix-second bounds of a yyyy-mm-dd date.
func DayRange(date string) (int64, int64, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return 0, 0, err
	}
	return day.Unix(), day.Add(24 * time.Hour).Unix(), nil
}

// CreateChatMessage stores one normalized message. Re-ingesting the same id
// refreshes the text.
func (s *Store) CreateChatMessage(ctx context.Context, create *ChatMessage) error {
	return s.driver.CreateChatMessage(ctx, create)
}

// ListChatMessages lists stored messages matching the find condition in
// ascending timestamp order.
func (s *Store) ListChatMessages(ctx context.Context, find *FindChatMessages) ([]*ChatMessage, error) {
	return s.driver.ListChatMessages(ctx, find)
}

// CountChatMessages counts stored messages matching the find condition.
func (s *Store) CountChatMessages(ctx context.Context, find *FindChatMessages) (int, error) {
	return s.driver.CountChatMessages(ctx, find)
}

// ListChatMessagesForDate lists a guild's messages for one UTC date.
func (s *Store) ListChatMessagesForDate(ctx context.Context, guildID int64, date string) ([]*ChatMessage, error) {
	from, to, err := DayRange(date)
	if err != nil {
		return nil, err
	}
	return s.driver.ListChatMessages(ctx, &FindChatMessages{GuildID: guildID, FromTs: &from, ToTs: &to})
}

// HasChatMessagesForDate reports whether any messages exist for one UTC
// date in a guild.
func (s *Store) HasChatMessagesForDate(ctx context.Context, guildID int64, date string) (bool, error) {
	from, to, err := DayRange(date)
	if err != nil {
		return false, err
	}
	n, err := s.driver.CountChatMessages(ctx, &FindChatMessages{GuildID: guildID, FromTs: &from, ToTs: &to})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
