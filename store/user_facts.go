package store

import "context"

// UserFacts is the long-term authoritative memory blob for one user in one
// guild. It is mutated only by the fact route.
type UserFacts struct {
	GuildID   int64
	UserID    int64
	Content   string
	UpdatedTs int64
}

// UpsertUserFacts inserts or replaces a user's facts.
func (s *Store) UpsertUserFacts(ctx context.Context, upsert *UserFacts) error {
	return s.driver.UpsertUserFacts(ctx, upsert)
}

// GetUserFacts returns a user's facts, or nil when none are stored.
func (s *Store) GetUserFacts(ctx context.Context, guildID, userID int64) (*UserFacts, error) {
	return s.driver.GetUserFacts(ctx, guildID, userID)
}
