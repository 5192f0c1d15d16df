package store

import "context"

// Message is one stored chat message with its detected language, kept for
// the joke pool and other few-shot sampling.
type Message struct {
	MessageID    int64
	Content      string
	LanguageCode string
}

// JokePair is a source message and the joke that answered it, with the
// reaction count used as a sampling weight.
type JokePair struct {
	SourceMessageID int64
	SourceContent   string
	JokeMessageID   int64
	JokeContent     string
	ReactionCount   int
}

// UpsertMessage inserts or updates a stored message. Re-ingesting the same
// id refreshes content and language.
func (s *Store) UpsertMessage(ctx context.Context, upsert *Message) error {
	return s.driver.UpsertMessage(ctx, upsert)
}

// GetMessage returns a stored message, or nil when absent.
func (s *Store) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	return s.driver.GetMessage(ctx, messageID)
}

// CreateJokePair stores both messages and the joke relation in one
// transaction.
func (s *Store) CreateJokePair(ctx context.Context, source, joke *Message) error {
	return s.driver.CreateJokePair(ctx, source, joke)
}

// AddJokeReaction adjusts the reaction count of a recorded joke.
func (s *Store) AddJokeReaction(ctx context.Context, jokeMessageID int64, delta int) error {
	return s.driver.AddJokeReaction(ctx, jokeMessageID, delta)
}

// ListJokePairs returns the highest-reacted joke pairs for sampling.
func (s *Store) ListJokePairs(ctx context.Context, limit int) ([]*JokePair, error) {
	return s.driver.ListJokePairs(ctx, limit)
}
