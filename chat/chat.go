// Package chat defines the boundary to the chat service: the message value
// the pipeline reasons about and the gateway operations it may invoke.
// Gateway handling itself (event delivery, transport framing) lives outside
// this module; adapters implement Gateway.
package chat

import (
	"context"
	"time"
)

// ArticleUserID is the sentinel author id used for messages synthesized from
// embedded articles. It is excluded from participant sets and memory lookups.
const ArticleUserID int64 = -1

// Attachment is a media item attached to a message. Description is
// precomputed by external collaborators (transcoding, captioning).
type Attachment struct {
	ID          int64
	URL         string
	ContentType string
	Description string
	Data        []byte // raw bytes when the adapter fetched them, nil otherwise
}

// Embed is a link preview with an externally extracted description.
type Embed struct {
	URL         string
	Description string
}

// Message is an immutable conversation node. Identity is ID.
type Message struct {
	ID          int64
	GuildID     int64
	ChannelID   int64
	AuthorID    int64
	Content     string
	CreatedAt   time.Time // UTC
	ReplyToID   *int64
	MentionIDs  []int64
	Attachments []Attachment
	Embeds      []Embed
}

// Reaction is an emoji added to a message by a user.
type Reaction struct {
	GuildID   int64
	ChannelID int64
	MessageID int64
	UserID    int64
	Emoji     string
}

// HasMention reports whether the message mentions the given user.
func (m *Message) HasMention(userID int64) bool {
	for _, id := range m.MentionIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Gateway is the outbound chat-service surface the pipeline depends on.
// FetchHistory returns up to limit messages strictly before beforeID in
// channel order, newest first.
type Gateway interface {
	FetchMessage(ctx context.Context, channelID, messageID int64) (*Message, error)
	FetchHistory(ctx context.Context, channelID, beforeID int64, limit int) ([]*Message, error)
	SendMessage(ctx context.Context, channelID int64, content string, replyToID int64) (*Message, error)
	ResolveDisplayName(ctx context.Context, guildID, userID int64) (string, error)
}

// TypingNotifier is implemented by gateways whose platform shows a typing
// indicator. Best effort; failures are ignored.
type TypingNotifier interface {
	NotifyTyping(ctx context.Context, channelID int64)
}
