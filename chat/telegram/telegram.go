// Package telegram adapts the Telegram Bot API to the chat.Gateway
// contract. Telegram bots cannot read arbitrary channel history, so the
// gateway records every update it observes and serves history fetches from
// that record.
package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/chat"
	"github.com/hrygo/banter/store/kv"
)

const (
	pollTimeoutSeconds = 30
	articleBodyLimit   = 2000 // runes kept from a linked page
	articleFetchLimit  = 256 << 10
)

// Handlers receive translated events from the update loop.
type Handlers struct {
	OnMessage  func(ctx context.Context, msg *chat.Message)
	OnReaction func(ctx context.Context, r *chat.Reaction)
}

// Gateway implements chat.Gateway over a Telegram bot account.
type Gateway struct {
	bot    *tgbotapi.BotAPI
	kvc    *kv.Cache
	client *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	byID map[int64]map[int64]*chat.Message // channel -> message id
}

// New connects the bot account. kvc is optional; without it attachment and
// article bodies are re-fetched on every occurrence.
func New(token string, kvc *kv.Cache, logger *slog.Logger) (*Gateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewFromBot(bot, kvc, logger), nil
}

// NewFromBot wraps an existing bot client.
func NewFromBot(bot *tgbotapi.BotAPI, kvc *kv.Cache, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		bot:    bot,
		kvc:    kvc,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
		byID: map[int64]map[int64]*chat.Message{},
	}
}

// BotUserID returns the bot account's own user id.
func (g *Gateway) BotUserID() int64 {
	return g.bot.Self.ID
}

// Run long-polls for updates until ctx is canceled. Telegram has no
// reaction updates on this API surface; a reply consisting of a single
// emoji is treated as a reaction to the replied-to message.
func (g *Gateway) Run(ctx context.Context, h Handlers) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := g.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			g.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			tg := update.Message
			if tg == nil {
				tg = update.EditedMessage
			}
			if tg == nil || tg.From == nil {
				continue
			}

			if r := g.asReaction(tg); r != nil {
				if h.OnReaction != nil {
					h.OnReaction(ctx, r)
				}
				continue
			}

			msg := g.translate(ctx, tg)
			g.record(msg)
			if h.OnMessage != nil {
				h.OnMessage(ctx, msg)
			}
		}
	}
}

// asReaction recognizes a single-emoji reply and maps it to a reaction on
// the replied-to message.
func (g *Gateway) asReaction(tg *tgbotapi.Message) *chat.Reaction {
	if tg.ReplyToMessage == nil {
		return nil
	}
	text := strings.TrimSpace(tg.Text)
	if !isSingleEmoji(text) {
		return nil
	}
	return &chat.Reaction{
		GuildID:   tg.Chat.ID,
		ChannelID: tg.Chat.ID,
		MessageID: int64(tg.ReplyToMessage.MessageID),
		UserID:    tg.From.ID,
		Emoji:     text,
	}
}

func isSingleEmoji(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > 2 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r >= 0x2190
}

// translate maps a Telegram message to the pipeline's message value,
// resolving photos and linked articles.
func (g *Gateway) translate(ctx context.Context, tg *tgbotapi.Message) *chat.Message {
	content := tg.Text
	if content == "" {
		content = tg.Caption
	}
	msg := &chat.Message{
		ID:        int64(tg.MessageID),
		GuildID:   tg.Chat.ID,
		ChannelID: tg.Chat.ID,
		AuthorID:  tg.From.ID,
		Content:   content,
		CreatedAt: tg.Time().UTC(),
	}

	if tg.ReplyToMessage != nil {
		replyID := int64(tg.ReplyToMessage.MessageID)
		msg.ReplyToID = &replyID
		if tg.ReplyToMessage.From != nil {
			g.record(g.shallowTranslate(tg.ReplyToMessage))
		}
	}

	msg.MentionIDs = mentionTargets(tg)
	if g.mentionsSelf(tg) {
		msg.MentionIDs = append(msg.MentionIDs, g.bot.Self.ID)
	}

	if len(tg.Photo) > 0 {
		largest := tg.Photo[len(tg.Photo)-1]
		if att := g.fetchAttachment(ctx, msg.ID, largest.FileID); att != nil {
			msg.Attachments = append(msg.Attachments, *att)
		}
	}

	for _, url := range linkTargets(tg) {
		body := g.fetchArticle(ctx, url)
		if body == "" {
			continue
		}
		msg.Embeds = append(msg.Embeds, chat.Embed{URL: url, Description: body})
		g.record(g.articleMessage(msg, url, body))
	}
	return msg
}

// shallowTranslate converts a reply target without following its own links
// or attachments.
func (g *Gateway) shallowTranslate(tg *tgbotapi.Message) *chat.Message {
	content := tg.Text
	if content == "" {
		content = tg.Caption
	}
	return &chat.Message{
		ID:        int64(tg.MessageID),
		GuildID:   tg.Chat.ID,
		ChannelID: tg.Chat.ID,
		AuthorID:  tg.From.ID,
		Content:   content,
		CreatedAt: tg.Time().UTC(),
	}
}

// articleMessage synthesizes the article as its own conversation node,
// authored by the article sentinel and linked to the carrying message. The
// negated id keeps it clear of Telegram's positive id space.
func (g *Gateway) articleMessage(carrier *chat.Message, url, body string) *chat.Message {
	carrierID := carrier.ID
	return &chat.Message{
		ID:        -carrier.ID,
		GuildID:   carrier.GuildID,
		ChannelID: carrier.ChannelID,
		AuthorID:  chat.ArticleUserID,
		Content:   fmt.Sprintf("Article at %s:\n%s", url, body),
		CreatedAt: carrier.CreatedAt,
		ReplyToID: &carrierID,
	}
}

func (g *Gateway) record(msg *chat.Message) {
	if msg == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	channel := g.byID[msg.ChannelID]
	if channel == nil {
		channel = map[int64]*chat.Message{}
		g.byID[msg.ChannelID] = channel
	}
	channel[msg.ID] = msg
}

// FetchMessage serves from the update record.
func (g *Gateway) FetchMessage(_ context.Context, channelID, messageID int64) (*chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.byID[channelID][messageID]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("message %d not observed in channel %d", messageID, channelID)
}

// FetchHistory returns recorded messages strictly before beforeID, newest
// first. A short page means the record holds nothing older.
func (g *Gateway) FetchHistory(_ context.Context, channelID, beforeID int64, limit int) ([]*chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*chat.Message
	for id, m := range g.byID[channelID] {
		if id < beforeID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SendMessage sends a text reply and records the sent message so later
// fetches can see it.
func (g *Gateway) SendMessage(_ context.Context, channelID int64, content string, replyToID int64) (*chat.Message, error) {
	tgMsg := tgbotapi.NewMessage(channelID, content)
	if replyToID != 0 {
		tgMsg.ReplyToMessageID = int(replyToID)
	}
	sent, err := g.bot.Send(tgMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to send telegram message: %w", err)
	}

	msg := &chat.Message{
		ID:        int64(sent.MessageID),
		GuildID:   channelID,
		ChannelID: channelID,
		AuthorID:  g.bot.Self.ID,
		Content:   content,
		CreatedAt: sent.Time().UTC(),
	}
	if replyToID != 0 {
		msg.ReplyToID = &replyToID
	}
	g.record(msg)
	return msg, nil
}

// NotifyTyping shows the typing indicator while a reply is generated.
func (g *Gateway) NotifyTyping(_ context.Context, channelID int64) {
	if _, err := g.bot.Request(tgbotapi.NewChatAction(channelID, tgbotapi.ChatTyping)); err != nil {
		g.logger.Debug("failed to send typing action", "error", err)
	}
}

// ResolveDisplayName asks Telegram for the member's current name.
func (g *Gateway) ResolveDisplayName(_ context.Context, guildID, userID int64) (string, error) {
	member, err := g.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: guildID, UserID: userID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve member %d: %w", userID, err)
	}
	if member.User == nil {
		return "", fmt.Errorf("member %d has no user", userID)
	}
	if member.User.UserName != "" {
		return member.User.UserName, nil
	}
	name := member.User.FirstName
	if member.User.LastName != "" {
		name += " " + member.User.LastName
	}
	return name, nil
}

// fetchAttachment downloads a photo, normalizes it for vision models, and
// caches the result keyed by the carrying message.
func (g *Gateway) fetchAttachment(ctx context.Context, attachmentID int64, fileID string) *chat.Attachment {
	if g.kvc != nil {
		if cached, ok, err := g.kvc.Get(ctx, kv.AttachmentKey(attachmentID)); err == nil && ok {
			data, err := base64.StdEncoding.DecodeString(cached)
			if err == nil {
				return &chat.Attachment{ID: attachmentID, ContentType: "image/jpeg", Data: data}
			}
		}
	}

	data, err := g.downloadFile(ctx, fileID)
	if err != nil {
		g.logger.Warn("failed to download attachment", "file_id", fileID, "error", err)
		return nil
	}
	img, err := llm.NormalizeImage(data)
	if err != nil {
		g.logger.Warn("failed to normalize attachment", "file_id", fileID, "error", err)
		return nil
	}

	if g.kvc != nil {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		if err := g.kvc.Set(ctx, kv.AttachmentKey(attachmentID), encoded, kv.AttachmentTTL); err != nil {
			g.logger.Warn("failed to cache attachment", "error", err)
		}
	}
	return &chat.Attachment{ID: attachmentID, ContentType: img.MIME, Data: img.Data}
}

func (g *Gateway) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := g.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	fileURL := file.Link(g.bot.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, articleFetchLimit))
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// fetchArticle pulls a linked page's visible text, cached by url.
func (g *Gateway) fetchArticle(ctx context.Context, url string) string {
	if g.kvc != nil {
		if cached, ok, err := g.kvc.Get(ctx, kv.ArticleKey(url)); err == nil && ok {
			return cached
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("failed to fetch article", "url", url, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") && !strings.Contains(ct, "text/plain") {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, articleFetchLimit))
	if err != nil {
		return ""
	}
	body := extractText(string(raw))
	if body == "" {
		return ""
	}

	if g.kvc != nil {
		if err := g.kvc.Set(ctx, kv.ArticleKey(url), body, kv.ArticleTTL); err != nil {
			g.logger.Warn("failed to cache article", "error", err)
		}
	}
	return body
}

// extractText strips markup and collapses whitespace, keeping the leading
// portion of the page.
func extractText(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = spacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > articleBodyLimit {
		runes = runes[:articleBodyLimit]
	}
	return string(runes)
}

// mentionTargets extracts mentioned user ids. Only text mentions carry an
// id; @username mentions of the bot itself are also resolvable.
func mentionTargets(tg *tgbotapi.Message) []int64 {
	var ids []int64
	for _, e := range entities(tg) {
		if e.Type == "text_mention" && e.User != nil {
			ids = append(ids, e.User.ID)
		}
	}
	return ids
}

// mentionsSelf reports whether an @username entity names the bot account.
func (g *Gateway) mentionsSelf(tg *tgbotapi.Message) bool {
	for _, e := range entities(tg) {
		if e.Type == "mention" && strings.EqualFold(entityText(tg, e), "@"+g.bot.Self.UserName) {
			return true
		}
	}
	return false
}

// linkTargets extracts urls from the message's entities.
func linkTargets(tg *tgbotapi.Message) []string {
	var urls []string
	for _, e := range entities(tg) {
		switch e.Type {
		case "text_link":
			if e.URL != "" {
				urls = append(urls, e.URL)
			}
		case "url":
			if u := entityText(tg, e); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

func entities(tg *tgbotapi.Message) []tgbotapi.MessageEntity {
	if len(tg.Entities) > 0 {
		return tg.Entities
	}
	return tg.CaptionEntities
}

// entityText slices the entity's span out of the message text. Telegram
// offsets are utf-16 code units.
func entityText(tg *tgbotapi.Message, e tgbotapi.MessageEntity) string {
	text := tg.Text
	if text == "" {
		text = tg.Caption
	}
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

var _ chat.Gateway = (*Gateway)(nil)
