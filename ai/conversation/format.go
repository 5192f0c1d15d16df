package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/banter/ai/cache"
	"github.com/hrygo/banter/chat"
)

// mentionPattern matches raw mention tokens, with or without the nickname
// marker, as they appear in message content.
var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// Formatter renders assembled context as the canonical block fed to
// prompts. Mention tokens are substituted with resolved display names;
// resolution is best-effort and cached per (guild, user).
type Formatter struct {
	gateway chat.Gateway
	names   *cache.LRUCache[string, string]
}

// NewFormatter creates a Formatter over the given gateway.
func NewFormatter(gateway chat.Gateway) *Formatter {
	return &Formatter{
		gateway: gateway,
		names:   cache.NewLRUCache[string, string](2000, 24*time.Hour),
	}
}

// DisplayName resolves a user's display name, falling back to a stable
// placeholder when the gateway cannot resolve the id.
func (f *Formatter) DisplayName(ctx context.Context, guildID, userID int64) string {
	if userID == chat.ArticleUserID {
		return "Article"
	}
	key := strconv.FormatInt(guildID, 10) + ":" + strconv.FormatInt(userID, 10)
	if name, ok := f.names.Get(key); ok {
		return name
	}
	name, err := f.gateway.ResolveDisplayName(ctx, guildID, userID)
	if err != nil || name == "" {
		slog.Debug("display name resolution failed", "guild_id", guildID, "user_id", userID, "error", err)
		return fmt.Sprintf("User(ID:%d)", userID)
	}
	f.names.SetWithDefaultTTL(key, name)
	return name
}

// substituteMentions replaces every mention token in content with the
// resolved display name.
func (f *Formatter) substituteMentions(ctx context.Context, guildID int64, content string) string {
	return mentionPattern.ReplaceAllStringFunc(content, func(token string) string {
		sub := mentionPattern.FindStringSubmatch(token)
		userID, err := strconv.ParseInt(sub[1], 10, 64)
		if err != nil {
			return token
		}
		return f.DisplayName(ctx, guildID, userID)
	})
}

// Format renders the messages as a conversation_history block. The shape is
// stable so prompts and cached summaries stay comparable across runs.
func (f *Formatter) Format(ctx context.Context, guildID int64, msgs []ConversationMessage) string {
	var sb strings.Builder
	sb.WriteString("<conversation_history>\n")
	for _, m := range msgs {
		sb.WriteString("<message>\n")
		sb.WriteString("<id>")
		sb.WriteString(strconv.FormatInt(m.MessageID, 10))
		sb.WriteString("</id>\n")
		if m.ReplyToID != nil {
			sb.WriteString("<reply_to>")
			sb.WriteString(strconv.FormatInt(*m.ReplyToID, 10))
			sb.WriteString("</reply_to>\n")
		}
		sb.WriteString("<timestamp>")
		sb.WriteString(m.Timestamp)
		sb.WriteString("</timestamp>\n")
		sb.WriteString("<author>")
		sb.WriteString(f.DisplayName(ctx, guildID, m.AuthorID))
		sb.WriteString("</author>\n")
		sb.WriteString("<content>")
		sb.WriteString(f.substituteMentions(ctx, guildID, m.Content))
		sb.WriteString("</content>\n")
		sb.WriteString("</message>\n")
	}
	sb.WriteString("</conversation_history>")
	return sb.String()
}
