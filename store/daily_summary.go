package store

import "context"

// EmptyDayUserID marks a date whose summarization produced nothing. Storing
// the sentinel row distinguishes "summarized, empty" from "never
// summarized" so the provider is not asked again.
const EmptyDayUserID int64 = 0

// DailySummary is one user's digest of one day's activity in a guild.
// Historical rows are written once and then treated as immutable.
type DailySummary struct {
	GuildID int64
	Date    string // yyyy-mm-dd, UTC
	UserID  int64
	Summary string
}

// InsertDailySummaries writes a day's summaries. Existing rows are left
// untouched, preserving the write-once contract.
func (s *Store) InsertDailySummaries(ctx context.Context, rows []*DailySummary) error {
	return s.driver.InsertDailySummaries(ctx, rows)
}

// ListDailySummaries returns the stored summaries for one (guild, date),
// including the empty-day sentinel when present.
func (s *Store) ListDailySummaries(ctx context.Context, guildID int64, date string) ([]*DailySummary, error) {
	return s.driver.ListDailySummaries(ctx, guildID, date)
}
