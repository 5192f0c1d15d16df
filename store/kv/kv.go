// Package kv provides the distributed cache surface of the pipeline: today's
// daily summaries, merged-context entries, article and attachment
// descriptions, and the NX locks that single-flight background rebuilds.
package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TTLs for the key families. These are part of the cache contract, not
// tunables.
const (
	DailySummaryTTL  = 24 * time.Hour
	MergedContextTTL = 24 * time.Hour
	ArticleTTL       = 7 * 24 * time.Hour
	AttachmentTTL    = 7 * 24 * time.Hour
	RebuildLockTTL   = 10 * time.Minute
)

// Cache wraps a Redis client with the small surface the pipeline needs.
type Cache struct {
	rdb redis.UniversalClient
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return &Cache{rdb: rdb}, nil
}

// NewFromClient wraps an existing client. Tests use this with miniredis.
func NewFromClient(rdb redis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the value for key and whether it exists.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get %s", key)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to set %s", key)
	}
	return nil
}

// SetNX stores value only when key does not exist and reports whether the
// write happened.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to setnx %s", key)
	}
	return ok, nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

// DailySummaryEntry is the cached value for one (guild, date): the per-user
// summaries plus when they were generated, for staleness checks.
type DailySummaryEntry struct {
	Summaries map[int64]string `json:"summaries"`
	CreatedAt time.Time        `json:"created_at"`
}

// GetDailySummary reads the cached entry for (guild, date).
func (c *Cache) GetDailySummary(ctx context.Context, guildID int64, date string) (*DailySummaryEntry, error) {
	raw, ok, err := c.Get(ctx, DailySummaryKey(guildID, date))
	if err != nil || !ok {
		return nil, err
	}
	var entry DailySummaryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, errors.Wrap(err, "failed to decode daily summary entry")
	}
	return &entry, nil
}

// SetDailySummary writes the entry for (guild, date) with a fresh
// created_at.
func (c *Cache) SetDailySummary(ctx context.Context, guildID int64, date string, summaries map[int64]string) error {
	entry := DailySummaryEntry{Summaries: summaries, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode daily summary entry")
	}
	return c.Set(ctx, DailySummaryKey(guildID, date), string(raw), DailySummaryTTL)
}

// AcquireRebuildLock takes the single-flight lock for a (guild, date)
// rebuild. The token identifies the owner in logs.
func (c *Cache) AcquireRebuildLock(ctx context.Context, guildID int64, date, token string) (bool, error) {
	return c.SetNX(ctx, RebuildLockKey(guildID, date), token, RebuildLockTTL)
}

// ReleaseRebuildLock drops the rebuild lock.
func (c *Cache) ReleaseRebuildLock(ctx context.Context, guildID int64, date string) error {
	return c.Delete(ctx, RebuildLockKey(guildID, date))
}

// Key builders. The shapes are shared with other deployments, so they stay
// stable.

func DailySummaryKey(guildID int64, date string) string {
	return fmt.Sprintf("daily_summary:%d:%s", guildID, date)
}

func MergedContextKey(guildID, userID int64, factsHash, summariesHash string) string {
	return fmt.Sprintf("ctx:%d:%d:%s:%s", guildID, userID, factsHash, summariesHash)
}

func ArticleKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "article:" + hex.EncodeToString(sum[:])
}

func AttachmentKey(attachmentID int64) string {
	return fmt.Sprintf("attachment:%d", attachmentID)
}

func RebuildLockKey(guildID int64, date string) string {
	return fmt.Sprintf("lock:daily:%d:%s", guildID, date)
}
