// Package store provides durable storage for the reasoning pipeline: raw
// chat messages for summarization, per-user facts, historical daily
// summaries, and the joke pool.
package store

import (
	"context"
	"database/sql"

	"github.com/hrygo/banter/internal/profile"
)

// Driver is an interface for the database driver.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	UpsertMessage(ctx context.Context, upsert *Message) error
	GetMessage(ctx context.Context, messageID int64) (*Message, error)

	CreateJokePair(ctx context.Context, source, joke *Message) error
	AddJokeReaction(ctx context.Context, jokeMessageID int64, delta int) error
	ListJokePairs(ctx context.Context, limit int) ([]*JokePair, error)

	UpsertUserFacts(ctx context.Context, upsert *UserFacts) error
	GetUserFacts(ctx context.Context, guildID, userID int64) (*UserFacts, error)

	InsertDailySummaries(ctx context.Context, rows []*DailySummary) error
	ListDailySummaries(ctx context.Context, guildID int64, date string) ([]*DailySummary, error)

	CreateChatMessage(ctx context.Context, create *ChatMessage) error
	ListChatMessages(ctx context.Context, find *FindChatMessages) ([]*ChatMessage, error)
	CountChatMessages(ctx context.Context, find *FindChatMessages) (int, error)
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{driver: driver, profile: profile}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
