package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewFromClient(rdb)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_SetNXSingleWinner(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	ok, err := c.AcquireRebuildLock(ctx, 1, "2026-08-24", "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireRebuildLock(ctx, 1, "2026-08-24", "owner-b")
	require.NoError(t, err)
	assert.False(t, ok, "second acquirer must lose")

	require.NoError(t, c.ReleaseRebuildLock(ctx, 1, "2026-08-24"))
	ok, err = c.AcquireRebuildLock(ctx, 1, "2026-08-24", "owner-b")
	require.NoError(t, err)
	assert.True(t, ok, "lock is reacquirable after release")
}

func TestCache_DailySummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	entry, err := c.GetDailySummary(ctx, 1, "2026-08-24")
	require.NoError(t, err)
	assert.Nil(t, entry, "cold cache returns nil")

	require.NoError(t, c.SetDailySummary(ctx, 1, "2026-08-24", map[int64]string{
		101: "talked about go",
		102: "asked for jokes",
	}))

	entry, err = c.GetDailySummary(ctx, 1, "2026-08-24")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "talked about go", entry.Summaries[101])
	assert.WithinDuration(t, time.Now(), entry.CreatedAt, 5*time.Second)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "daily_summary:1:2026-08-24", DailySummaryKey(1, "2026-08-24"))
	assert.Equal(t, "ctx:1:101:abc:def", MergedContextKey(1, 101, "abc", "def"))
	assert.Equal(t, "attachment:42", AttachmentKey(42))
	assert.Equal(t, "lock:daily:1:2026-08-24", RebuildLockKey(1, "2026-08-24"))

	// Same url, same key; the url itself never appears in the key.
	k := ArticleKey("https://example.com/a")
	assert.Equal(t, k, ArticleKey("https://example.com/a"))
	assert.NotContains(t, k, "example.com")
	assert.Len(t, k, len("article:")+64)
}
