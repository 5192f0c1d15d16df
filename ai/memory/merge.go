package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/store/kv"
)

var mergedContextSchema = llm.MustSchema("merged_context", `{
	"type": "object",
	"properties": {
		"context": {"type": "string"}
	},
	"required": ["context"],
	"additionalProperties": false
}`)

type mergedContextPayload struct {
	Context string `json:"context"`
}

const mergeSystemPrompt = `Combine the long-term notes about a person with their recent daily activity into one coherent third-person description.
Prefer the long-term notes when the two disagree. Keep it under 200 words and do not invent anything.`

// mergeContext synthesizes one narrative from facts plus the summary
// window. The result is content-addressed: the cache key carries hashes of
// both inputs, so any change to either produces a fresh slot.
func (m *Manager) mergeContext(ctx context.Context, guildID, userID int64, facts string, window []dateSummary) string {
	factsHash := contentHash(facts)
	summariesHash := contentHash(joinWindow(window))
	key := kv.MergedContextKey(guildID, userID, factsHash, summariesHash)

	if merged, ok := m.merged.Get(key); ok {
		m.metrics.RecordCacheHit("merged_context")
		return merged
	}
	if merged, ok, err := m.kvc.Get(ctx, key); err == nil && ok {
		m.metrics.RecordCacheHit("merged_context")
		m.merged.SetWithDefaultTTL(key, merged)
		return merged
	}
	m.metrics.RecordCacheMiss("merged_context")

	merged, err := m.callMerger(ctx, facts, window)
	if err != nil {
		slog.Warn("context merge failed, degrading", "guild_id", guildID, "user_id", userID, "error", err)
		return mergeFallback(facts, window)
	}

	m.merged.SetWithDefaultTTL(key, merged)
	if err := m.kvc.Set(ctx, key, merged, kv.MergedContextTTL); err != nil {
		slog.Warn("merged context cache write failed", "error", err)
	}
	return merged
}

func (m *Manager) callMerger(ctx context.Context, facts string, window []dateSummary) (string, error) {
	var sb strings.Builder
	if facts != "" {
		sb.WriteString("<long_term_notes>\n")
		sb.WriteString(facts)
		sb.WriteString("\n</long_term_notes>\n")
	}
	sb.WriteString("<recent_days>\n")
	for _, ds := range window {
		sb.WriteString("<day date=\"")
		sb.WriteString(ds.date)
		sb.WriteString("\">")
		sb.WriteString(ds.summary)
		sb.WriteString("</day>\n")
	}
	sb.WriteString("</recent_days>")

	resp, err := m.merger.Generate(ctx, &llm.Request{
		SystemPrompt: mergeSystemPrompt,
		Message:      sb.String(),
		Schema:       mergedContextSchema,
		Temperature:  llm.Temp(0.2),
	})
	if err != nil {
		return "", err
	}
	payload, err := llm.DecodeAs[mergedContextPayload](resp)
	if err != nil {
		return "", err
	}
	return payload.Context, nil
}

// mergeFallback degrades in order: facts, then the most recent summary,
// then nothing.
func mergeFallback(facts string, window []dateSummary) string {
	if facts != "" {
		return facts
	}
	if len(window) > 0 {
		return window[len(window)-1].summary
	}
	return ""
}

// joinWindow renders the summary window in a stable order for hashing.
func joinWindow(window []dateSummary) string {
	parts := make([]string, 0, len(window))
	for _, ds := range window {
		parts = append(parts, ds.date+":"+ds.summary)
	}
	return strings.Join(parts, "\n")
}
