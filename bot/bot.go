// Package bot ties the reasoning pipeline to chat events. It decides which
// incoming messages deserve a reply, runs them through the router and
// generators, and handles the emoji-triggered reply modes.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hrygo/banter/ai/generators"
	"github.com/hrygo/banter/ai/memory"
	"github.com/hrygo/banter/ai/metrics"
	"github.com/hrygo/banter/ai/postprocess"
	"github.com/hrygo/banter/ai/router"
	"github.com/hrygo/banter/ai/tracing"
	"github.com/hrygo/banter/chat"
	"github.com/hrygo/banter/store"
)

// Reaction emojis that trigger a reply mode.
const (
	EmojiWisdom   = "🧘"
	EmojiAdvocate = "😈"
	EmojiJoke     = "🤡"
)

// Config wires the app's collaborators.
type Config struct {
	Gateway    chat.Gateway
	Store      *store.Store
	Router     *router.Router
	Dispatcher *generators.Dispatcher
	Memories   *memory.Manager
	Post       *postprocess.Processor

	Wisdom   *generators.WisdomGenerator
	Advocate *generators.AdvocateGenerator
	Joke     *generators.JokeGenerator

	Metrics *metrics.Exporter
	Tracer  tracing.Exporter
	Logger  *slog.Logger

	// BotUserID is the bot's own chat account. Messages it authored are
	// ingested but never replied to.
	BotUserID int64
}

// App owns the event handlers. All state lives here, nothing is global.
type App struct {
	gateway    chat.Gateway
	store      *store.Store
	router     *router.Router
	dispatcher *generators.Dispatcher
	memories   *memory.Manager
	post       *postprocess.Processor

	wisdom   *generators.WisdomGenerator
	advocate *generators.AdvocateGenerator
	joke     *generators.JokeGenerator

	metrics   *metrics.Exporter
	tracer    tracing.Exporter
	logger    *slog.Logger
	botUserID int64

	mu            sync.Mutex
	seenReactions map[string]struct{}
}

// New creates the app.
func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		gateway:       cfg.Gateway,
		store:         cfg.Store,
		router:        cfg.Router,
		dispatcher:    cfg.Dispatcher,
		memories:      cfg.Memories,
		post:          cfg.Post,
		wisdom:        cfg.Wisdom,
		advocate:      cfg.Advocate,
		joke:          cfg.Joke,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		logger:        logger,
		botUserID:     cfg.BotUserID,
		seenReactions: map[string]struct{}{},
	}
}

// HandleMessage ingests an incoming message and replies when the bot is
// addressed. Errors are logged, never surfaced to the chat.
func (a *App) HandleMessage(ctx context.Context, msg *chat.Message) {
	trace := tracing.NewTrace("handle_message")
	defer func() {
		trace.End()
		if a.tracer != nil {
			a.tracer.Export(trace)
		}
	}()
	log := a.logger.With(
		slog.String("trace_id", trace.TraceID),
		slog.Int64("guild_id", msg.GuildID),
		slog.Int64("channel_id", msg.ChannelID),
		slog.Int64("message_id", msg.ID),
	)

	endIngest := trace.StartPhase("ingest")
	err := a.memories.IngestMessage(ctx, msg)
	endIngest(err)
	if err != nil {
		log.Warn("failed to ingest message", "error", err)
	}

	if msg.AuthorID == a.botUserID || !a.addressed(ctx, msg) {
		return
	}

	endRoute := trace.StartPhase("route")
	decision, err := a.router.Route(ctx, msg.Content)
	endRoute(err)
	if err != nil {
		log.Error("routing failed", "error", err)
		return
	}
	trace.SetTag("route", string(decision.Route))
	log.Info("routed message", slog.String("route", string(decision.Route)), slog.String("reason", decision.Reason))

	if tn, ok := a.gateway.(chat.TypingNotifier); ok {
		tn.NotifyTyping(ctx, msg.ChannelID)
	}

	endGenerate := trace.StartPhase("generate")
	reply, err := a.dispatcher.Dispatch(ctx, decision, msg)
	endGenerate(err)
	if err != nil {
		log.Error("generation failed", slog.String("route", string(decision.Route)), "error", err)
		return
	}
	if reply == "" {
		return
	}

	endSend := trace.StartPhase("send")
	_, err = a.gateway.SendMessage(ctx, msg.ChannelID, reply, msg.ID)
	endSend(err)
	if err != nil {
		log.Error("failed to send reply", "error", err)
	}
}

// addressed reports whether the message is directed at the bot: a direct
// mention, or a reply to one of the bot's own messages.
func (a *App) addressed(ctx context.Context, msg *chat.Message) bool {
	if msg.HasMention(a.botUserID) {
		return true
	}
	if msg.ReplyToID == nil {
		return false
	}
	parent, err := a.gateway.FetchMessage(ctx, msg.ChannelID, *msg.ReplyToID)
	if err != nil {
		return false
	}
	return parent.AuthorID == a.botUserID
}

// HandleReaction runs the emoji-triggered modes. A joke emoji on one of the
// bot's own jokes counts as applause; on anyone else's message it requests a
// new joke. Each (message, emoji) pair produces at most one reply per
// process lifetime.
func (a *App) HandleReaction(ctx context.Context, r *chat.Reaction) {
	if r.UserID == a.botUserID {
		return
	}
	if r.Emoji != EmojiWisdom && r.Emoji != EmojiAdvocate && r.Emoji != EmojiJoke {
		return
	}

	log := a.logger.With(
		slog.String("trace_id", uuid.NewString()),
		slog.Int64("message_id", r.MessageID),
		slog.String("emoji", r.Emoji),
	)

	msg, err := a.gateway.FetchMessage(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		log.Warn("failed to fetch reacted message", "error", err)
		return
	}

	if r.Emoji == EmojiJoke && msg.AuthorID == a.botUserID {
		if err := a.joke.AddReaction(ctx, r.MessageID); err != nil {
			log.Warn("failed to record joke reaction", "error", err)
		}
		return
	}

	if !a.claimReaction(r.MessageID, r.Emoji) {
		return
	}

	var reply string
	switch r.Emoji {
	case EmojiWisdom:
		reply, err = a.wisdom.Generate(ctx, msg.Content)
	case EmojiAdvocate:
		reply, err = a.advocate.Generate(ctx, msg.Content)
	case EmojiJoke:
		reply, err = a.joke.Generate(ctx, msg.Content)
	}
	if err != nil {
		log.Error("reaction generation failed", "error", err)
		return
	}
	if reply == "" {
		return
	}

	sent, err := a.gateway.SendMessage(ctx, r.ChannelID, a.post.Process(ctx, reply), r.MessageID)
	if err != nil {
		log.Error("failed to send reaction reply", "error", err)
		return
	}

	if r.Emoji == EmojiJoke {
		err := a.joke.RecordJoke(ctx,
			&store.Message{MessageID: msg.ID, Content: msg.Content},
			&store.Message{MessageID: sent.ID, Content: sent.Content},
		)
		if err != nil {
			log.Warn("failed to record joke pair", "error", err)
		}
	}
}

// claimReaction marks a (message, emoji) pair handled. The set is in-memory
// only; a restart may re-handle a pair delivered again.
func (a *App) claimReaction(messageID int64, emoji string) bool {
	key := fmt.Sprintf("%d:%s", messageID, emoji)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seenReactions[key]; ok {
		return false
	}
	a.seenReactions[key] = struct{}{}
	return true
}
