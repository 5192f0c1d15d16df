// Package memory composes per-user long-term facts with a rolling window of
// daily summaries into the memory strings fed to prompts. Today's summary
// lives in the distributed cache and is rebuilt in the background when
// stale; historical summaries are generated once and stored durably.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/banter/ai/cache"
	"github.com/hrygo/banter/ai/conversation"
	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/ai/metrics"
	"github.com/hrygo/banter/chat"
	"github.com/hrygo/banter/store"
	"github.com/hrygo/banter/store/kv"
)

// dailyWindow is how many dates, counting today, one memory lookup spans.
const dailyWindow = 7

// staleAfter is how old today's cached summary may get before a background
// rebuild is scheduled.
const staleAfter = time.Hour

// Config wires the manager's collaborators.
type Config struct {
	Store     *store.Store
	KV        *kv.Cache
	Formatter *conversation.Formatter

	// Summarizer produces per-user daily summaries, Merger unifies facts
	// with the summary window, Aliaser extracts short alias lists from
	// facts. All three are schema-typed calls.
	Summarizer llm.Client
	Merger     llm.Client
	Aliaser    llm.Client

	Metrics *metrics.Exporter
}

// Manager answers memory lookups and owns the rebuild machinery.
type Manager struct {
	store     *store.Store
	kvc       *kv.Cache
	formatter *conversation.Formatter

	summarizer llm.Client
	merger     llm.Client
	aliaser    llm.Client
	metrics    *metrics.Exporter

	merged  *cache.LRUCache[string, string]
	aliases *cache.LRUCache[string, []string]

	// Test seams. spawn runs background rebuilds; now supplies the clock.
	spawn func(fn func())
	now   func() time.Time
}

// NewManager creates a memory manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		store:      cfg.Store,
		kvc:        cfg.KV,
		formatter:  cfg.Formatter,
		summarizer: cfg.Summarizer,
		merger:     cfg.Merger,
		aliaser:    cfg.Aliaser,
		metrics:    cfg.Metrics,
		merged:     cache.NewLRUCache[string, string](500, kv.MergedContextTTL),
		aliases:    cache.NewLRUCache[string, []string](500, 24*time.Hour),
		spawn:      func(fn func()) { go fn() },
		now:        time.Now,
	}
}

type dateSummary struct {
	date    string
	summary string
}

// GetMemories returns a memory string per requested user. Users nothing is
// known about are absent from the result. One failing user or date never
// blocks the others.
func (m *Manager) GetMemories(ctx context.Context, guildID int64, userIDs []int64) map[int64]string {
	dates := m.window()

	daily := make([]map[int64]string, len(dates))
	facts := make(map[int64]string, len(userIDs))
	var factsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, date := range dates {
		g.Go(func() error {
			daily[i] = m.dailySummary(gctx, guildID, date)
			return nil
		})
	}
	for _, userID := range userIDs {
		g.Go(func() error {
			f, err := m.store.GetUserFacts(gctx, guildID, userID)
			if err != nil {
				slog.Warn("facts read failed", "guild_id", guildID, "user_id", userID, "error", err)
				return nil
			}
			if f != nil && f.Content != "" {
				factsMu.Lock()
				facts[userID] = f.Content
				factsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[int64]string, len(userIDs))
	for _, userID := range userIDs {
		var window []dateSummary
		for i, date := range dates {
			if s := daily[i][userID]; s != "" {
				window = append(window, dateSummary{date: date, summary: s})
			}
		}
		if mem := m.composeUser(ctx, guildID, userID, facts[userID], window); mem != "" {
			out[userID] = mem
		}
	}
	return out
}

// composeUser applies the short-circuit rules before paying for a merge.
func (m *Manager) composeUser(ctx context.Context, guildID, userID int64, facts string, window []dateSummary) string {
	switch {
	case facts == "" && len(window) == 0:
		return ""
	case len(window) == 0:
		return facts
	case facts == "" && len(window) == 1:
		return window[0].summary
	}
	return m.mergeContext(ctx, guildID, userID, facts, window)
}

// window returns today and the six prior UTC dates, oldest first.
func (m *Manager) window() []string {
	today := m.now().UTC().Truncate(24 * time.Hour)
	dates := make([]string, 0, dailyWindow)
	for i := dailyWindow - 1; i >= 0; i-- {
		dates = append(dates, today.AddDate(0, 0, -i).Format("2006-01-02"))
	}
	return dates
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

// dailySummary returns the per-user summaries for one date. Today is served
// from the distributed cache with staleness-triggered rebuilds; historical
// dates are generated once and then immutable. Failures yield an empty map.
func (m *Manager) dailySummary(ctx context.Context, guildID int64, date string) map[int64]string {
	if date == m.today() {
		return m.todaySummary(ctx, guildID, date)
	}
	return m.historicalSummary(ctx, guildID, date)
}

func (m *Manager) todaySummary(ctx context.Context, guildID int64, date string) map[int64]string {
	entry, err := m.kvc.GetDailySummary(ctx, guildID, date)
	if err != nil {
		slog.Warn("daily summary cache read failed", "guild_id", guildID, "date", date, "error", err)
		return map[int64]string{}
	}
	if entry == nil {
		m.scheduleRebuild(guildID, date, "cold")
		return map[int64]string{}
	}
	if m.now().Sub(entry.CreatedAt) >= staleAfter {
		m.scheduleRebuild(guildID, date, "stale")
	}
	return entry.Summaries
}

func (m *Manager) historicalSummary(ctx context.Context, guildID int64, date string) map[int64]string {
	rows, err := m.store.ListDailySummaries(ctx, guildID, date)
	if err != nil {
		slog.Warn("daily summary read failed", "guild_id", guildID, "date", date, "error", err)
		return map[int64]string{}
	}
	if len(rows) > 0 {
		out := make(map[int64]string, len(rows))
		for _, row := range rows {
			if row.UserID == store.EmptyDayUserID {
				continue
			}
			out[row.UserID] = row.Summary
		}
		return out
	}

	has, err := m.store.HasChatMessagesForDate(ctx, guildID, date)
	if err != nil {
		slog.Warn("message existence check failed", "guild_id", guildID, "date", date, "error", err)
		return map[int64]string{}
	}
	if !has {
		return map[int64]string{}
	}

	summaries, err := m.createDailySummaries(ctx, guildID, date)
	if err != nil {
		if llm.IsBlocked(err) {
			// Store the empty sentinel so the provider is not asked again
			// for a day it refuses to summarize.
			m.writeHistorical(ctx, guildID, date, map[int64]string{})
		}
		slog.Error("historical summary generation failed", "guild_id", guildID, "date", date, "error", err)
		return map[int64]string{}
	}
	m.writeHistorical(ctx, guildID, date, summaries)
	return summaries
}

// writeHistorical persists a day's summaries once. An empty map becomes the
// sentinel row.
func (m *Manager) writeHistorical(ctx context.Context, guildID int64, date string, summaries map[int64]string) {
	rows := make([]*store.DailySummary, 0, len(summaries))
	for userID, summary := range summaries {
		rows = append(rows, &store.DailySummary{GuildID: guildID, Date: date, UserID: userID, Summary: summary})
	}
	if len(rows) == 0 {
		rows = append(rows, &store.DailySummary{GuildID: guildID, Date: date, UserID: store.EmptyDayUserID})
	}
	if err := m.store.InsertDailySummaries(ctx, rows); err != nil {
		slog.Error("historical summary write failed", "guild_id", guildID, "date", date, "error", err)
	}
}

// scheduleRebuild starts a detached rebuild of today's summary, gated by
// the distributed NX lock. Losing the race is silent. The rebuild must not
// inherit the caller's cancellation.
func (m *Manager) scheduleRebuild(guildID int64, date, trigger string) {
	m.spawn(func() {
		ctx := context.Background()
		token := shortuuid.New()

		ok, err := m.kvc.AcquireRebuildLock(ctx, guildID, date, token)
		if err != nil {
			slog.Warn("rebuild lock acquire failed", "guild_id", guildID, "date", date, "error", err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := m.kvc.ReleaseRebuildLock(ctx, guildID, date); err != nil {
				slog.Warn("rebuild lock release failed", "guild_id", guildID, "date", date, "error", err)
			}
		}()

		slog.Info("rebuilding daily summary", "guild_id", guildID, "date", date, "trigger", trigger, "token", token)

		summaries, err := m.createDailySummaries(ctx, guildID, date)
		if err != nil {
			// Blocked or broken: store an empty entry so callers stop
			// scheduling rebuilds until the next staleness window.
			if werr := m.kvc.SetDailySummary(ctx, guildID, date, map[int64]string{}); werr != nil {
				slog.Error("empty summary write failed", "guild_id", guildID, "date", date, "error", werr)
			}
			m.metrics.RecordRebuild(trigger, "error")
			slog.Error("daily summary rebuild failed", "guild_id", guildID, "date", date, "error", err)
			return
		}

		if err := m.kvc.SetDailySummary(ctx, guildID, date, summaries); err != nil {
			m.metrics.RecordRebuild(trigger, "error")
			slog.Error("daily summary write failed", "guild_id", guildID, "date", date, "error", err)
			return
		}
		m.metrics.RecordRebuild(trigger, "success")

		// Warm the merge cache for everyone the summary touched.
		users := make([]int64, 0, len(summaries))
		for userID := range summaries {
			users = append(users, userID)
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		m.GetMemories(ctx, guildID, users)
	})
}

// IngestMessage stores a normalized copy of an incoming message for later
// summarization.
func (m *Manager) IngestMessage(ctx context.Context, msg *chat.Message) error {
	return m.store.CreateChatMessage(ctx, &store.ChatMessage{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		UserID:    msg.AuthorID,
		Text:      msg.Content,
		Ts:        msg.CreatedAt.UTC().Unix(),
		ReplyToID: msg.ReplyToID,
	})
}

// GetFacts returns a user's long-term facts, or empty when none exist.
func (m *Manager) GetFacts(ctx context.Context, guildID, userID int64) (string, error) {
	f, err := m.store.GetUserFacts(ctx, guildID, userID)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", nil
	}
	return f.Content, nil
}

// SetFacts replaces a user's long-term facts. Only the fact route calls
// this.
func (m *Manager) SetFacts(ctx context.Context, guildID, userID int64, content string) error {
	return m.store.UpsertUserFacts(ctx, &store.UserFacts{GuildID: guildID, UserID: userID, Content: content})
}
