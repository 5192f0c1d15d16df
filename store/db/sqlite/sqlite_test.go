package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/banter/internal/profile"
	"github.com/hrygo/banter/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "banter_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	s := store.New(driver, p)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserFacts_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	facts, err := s.GetUserFacts(ctx, 1, 101)
	require.NoError(t, err)
	assert.Nil(t, facts, "absent facts return nil")

	require.NoError(t, s.UpsertUserFacts(ctx, &store.UserFacts{GuildID: 1, UserID: 101, Content: "likes tea"}))
	require.NoError(t, s.UpsertUserFacts(ctx, &store.UserFacts{GuildID: 1, UserID: 101, Content: "likes coffee"}))

	facts, err = s.GetUserFacts(ctx, 1, 101)
	require.NoError(t, err)
	require.NotNil(t, facts)
	assert.Equal(t, "likes coffee", facts.Content, "upsert replaces content")
}

func TestDailySummaries_WriteOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := []*store.DailySummary{
		{GuildID: 1, Date: "2026-08-20", UserID: 101, Summary: "talked about go"},
		{GuildID: 1, Date: "2026-08-20", UserID: 102, Summary: "asked for jokes"},
	}
	require.NoError(t, s.InsertDailySummaries(ctx, first))

	// A second writer for the same day must not overwrite anything.
	require.NoError(t, s.InsertDailySummaries(ctx, []*store.DailySummary{
		{GuildID: 1, Date: "2026-08-20", UserID: 101, Summary: "OVERWRITTEN"},
	}))

	rows, err := s.ListDailySummaries(ctx, 1, "2026-08-20")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "talked about go", rows[0].Summary)
}

func TestDailySummaries_EmptyDaySentinel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.InsertDailySummaries(ctx, []*store.DailySummary{
		{GuildID: 1, Date: "2026-08-19", UserID: store.EmptyDayUserID, Summary: ""},
	}))

	rows, err := s.ListDailySummaries(ctx, 1, "2026-08-19")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, store.EmptyDayUserID, rows[0].UserID)
}

func TestChatMessages_DateWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	from, _, err := store.DayRange("2026-08-20")
	require.NoError(t, err)

	require.NoError(t, s.CreateChatMessage(ctx, &store.ChatMessage{
		GuildID: 1, ChannelID: 5, MessageID: 10, UserID: 101, Text: "inside", Ts: from + 3600,
	}))
	require.NoError(t, s.CreateChatMessage(ctx, &store.ChatMessage{
		GuildID: 1, ChannelID: 5, MessageID: 11, UserID: 102, Text: "outside", Ts: from - 3600,
	}))

	msgs, err := s.ListChatMessagesForDate(ctx, 1, "2026-08-20")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "inside", msgs[0].Text)

	has, err := s.HasChatMessagesForDate(ctx, 1, "2026-08-20")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasChatMessagesForDate(ctx, 1, "2026-08-21")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestChatMessages_ReingestRefreshesText(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	replyTo := int64(9)
	require.NoError(t, s.CreateChatMessage(ctx, &store.ChatMessage{
		GuildID: 1, ChannelID: 5, MessageID: 10, UserID: 101, Text: "draft", Ts: 1000, ReplyToID: &replyTo,
	}))
	require.NoError(t, s.CreateChatMessage(ctx, &store.ChatMessage{
		GuildID: 1, ChannelID: 5, MessageID: 10, UserID: 101, Text: "edited", Ts: 1000,
	}))

	msgs, err := s.ListChatMessages(ctx, &store.FindChatMessages{GuildID: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Text)
	require.NotNil(t, msgs[0].ReplyToID)
	assert.Equal(t, int64(9), *msgs[0].ReplyToID)
}

func TestJokePair_AtomicCreateAndReactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	source := &store.Message{MessageID: 1, Content: "why did the gopher cross the road", LanguageCode: "en"}
	joke := &store.Message{MessageID: 2, Content: "to garbage collect the other side", LanguageCode: "en"}
	require.NoError(t, s.CreateJokePair(ctx, source, joke))
	require.NoError(t, s.AddJokeReaction(ctx, 2, 3))

	pairs, err := s.ListJokePairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(1), pairs[0].SourceMessageID)
	assert.Equal(t, int64(2), pairs[0].JokeMessageID)
	assert.Equal(t, 3, pairs[0].ReactionCount)

	// Replaying the same pair is idempotent.
	require.NoError(t, s.CreateJokePair(ctx, source, joke))
	pairs, err = s.ListJokePairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 3, pairs[0].ReactionCount, "relation replay keeps the count")
}

func TestJokePairs_OrderedByReactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateJokePair(ctx,
		&store.Message{MessageID: 1, Content: "q1"}, &store.Message{MessageID: 2, Content: "a1"}))
	require.NoError(t, s.CreateJokePair(ctx,
		&store.Message{MessageID: 3, Content: "q2"}, &store.Message{MessageID: 4, Content: "a2"}))
	require.NoError(t, s.AddJokeReaction(ctx, 4, 5))

	pairs, err := s.ListJokePairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, int64(4), pairs[0].JokeMessageID, "most reacted first")
}
