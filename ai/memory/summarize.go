package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/banter/ai/conversation"
	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/chat"
	"github.com/hrygo/banter/store"
)

var dailySummariesSchema = llm.MustSchema("daily_summaries", `{
	"type": "object",
	"properties": {
		"summaries": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"user_id": {"type": "integer"},
					"summary": {"type": "string"}
				},
				"required": ["user_id", "summary"],
				"additionalProperties": false
			}
		}
	},
	"required": ["summaries"],
	"additionalProperties": false
}`)

type dailySummariesPayload struct {
	Summaries []struct {
		UserID  int64  `json:"user_id"`
		Summary string `json:"summary"`
	} `json:"summaries"`
}

var aliasSchema = llm.MustSchema("user_aliases", `{
	"type": "object",
	"properties": {
		"aliases": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["aliases"],
	"additionalProperties": false
}`)

type aliasPayload struct {
	Aliases []string `json:"aliases"`
}

const summarizeSystemPrompt = `You summarize one day of chat activity per user.
For every target user write a short third-person digest of what they said and did that day.
Skip users who only reacted or said nothing substantial. Keep each summary under 100 words.`

// createDailySummaries loads a day's messages, renders them, and asks the
// summarizer for one digest per active user.
func (m *Manager) createDailySummaries(ctx context.Context, guildID int64, date string) (map[int64]string, error) {
	msgs, err := m.store.ListChatMessagesForDate(ctx, guildID, date)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load messages for summarization")
	}
	if len(msgs) == 0 {
		return map[int64]string{}, nil
	}

	rendered := m.formatter.Format(ctx, guildID, toConversation(msgs))
	targets := m.targetUsersBlock(ctx, guildID, activeUsers(msgs))

	req := &llm.Request{
		SystemPrompt: summarizeSystemPrompt,
		Message:      targets + "\n\n" + rendered,
		Schema:       dailySummariesSchema,
		Temperature:  llm.Temp(0.3),
	}
	resp, err := m.summarizer.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := llm.DecodeAs[dailySummariesPayload](resp)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(payload.Summaries))
	for _, s := range payload.Summaries {
		if s.Summary != "" {
			out[s.UserID] = s.Summary
		}
	}
	return out, nil
}

// targetUsersBlock lists the users the summarizer must cover, with alias
// lists derived from their facts so nicknames in chat resolve to the right
// user id.
func (m *Manager) targetUsersBlock(ctx context.Context, guildID int64, userIDs []int64) string {
	var sb strings.Builder
	sb.WriteString("<target_users>\n")
	for _, userID := range userIDs {
		sb.WriteString(fmt.Sprintf("<user>\n<id>%d</id>\n<name>%s</name>\n",
			userID, m.formatter.DisplayName(ctx, guildID, userID)))
		facts, err := m.GetFacts(ctx, guildID, userID)
		if err != nil {
			slog.Warn("facts read failed during summarization", "guild_id", guildID, "user_id", userID, "error", err)
		} else if facts != "" {
			if aliases := m.aliasesFor(ctx, facts); len(aliases) > 0 {
				sb.WriteString("<also_known_as>")
				sb.WriteString(strings.Join(aliases, ", "))
				sb.WriteString("</also_known_as>\n")
			}
		}
		sb.WriteString("</user>\n")
	}
	sb.WriteString("</target_users>")
	return sb.String()
}

const aliasSystemPrompt = `Extract the nicknames, handles and alternative names a person goes by from the notes below.
Return only names, no descriptions. Return an empty list when the notes name none.`

// aliasesFor derives a short alias list from a facts blob, cached by the
// content hash of the facts so unchanged facts never pay for a second call.
func (m *Manager) aliasesFor(ctx context.Context, facts string) []string {
	key := contentHash(facts)
	if aliases, ok := m.aliases.Get(key); ok {
		return aliases
	}

	resp, err := m.aliaser.Generate(ctx, &llm.Request{
		SystemPrompt: aliasSystemPrompt,
		Message:      facts,
		Schema:       aliasSchema,
		Temperature:  llm.Temp(0),
	})
	if err != nil {
		slog.Warn("alias extraction failed", "error", err)
		return nil
	}
	payload, err := llm.DecodeAs[aliasPayload](resp)
	if err != nil {
		slog.Warn("alias decode failed", "error", err)
		return nil
	}

	m.aliases.SetWithDefaultTTL(key, payload.Aliases)
	return payload.Aliases
}

// activeUsers returns the distinct authors of a day's messages, sentinels
// excluded, in ascending order.
func activeUsers(msgs []*store.ChatMessage) []int64 {
	seen := map[int64]struct{}{}
	var users []int64
	for _, msg := range msgs {
		if msg.UserID == chat.ArticleUserID || msg.UserID == store.EmptyDayUserID {
			continue
		}
		if _, ok := seen[msg.UserID]; ok {
			continue
		}
		seen[msg.UserID] = struct{}{}
		users = append(users, msg.UserID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// toConversation adapts stored messages to the renderer's shape.
func toConversation(msgs []*store.ChatMessage) []conversation.ConversationMessage {
	out := make([]conversation.ConversationMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, conversation.ConversationMessage{
			MessageID: msg.MessageID,
			AuthorID:  msg.UserID,
			Content:   msg.Text,
			Timestamp: timestampOf(msg),
			ReplyToID: msg.ReplyToID,
		})
	}
	return out
}

func timestampOf(msg *store.ChatMessage) string {
	return time.Unix(msg.Ts, 0).UTC().Format("2006-01-02 15:04:05")
}

func contentHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
