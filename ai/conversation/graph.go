// Package conversation assembles the prior context around a trigger message
// by alternating reply-chain traversal and temporal neighbor expansion, then
// renders the result as a canonical block for prompts.
package conversation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hrygo/banter/chat"
)

// ConversationMessage is one rendered node of the assembled context.
type ConversationMessage struct {
	MessageID  int64
	AuthorID   int64
	Content    string
	Timestamp  string
	MentionIDs []int64
	ReplyToID  *int64
}

const timestampLayout = "2006-01-02 15:04:05"

// graph holds the nodes collected so far plus the two exploration sets.
// unexploredRefs holds ids whose reply target has not been followed yet;
// temporalFrontier holds ids whose immediate channel predecessor has not
// been considered yet. Exploration only removes from those sets.
type graph struct {
	nodes            map[int64]*chat.Message
	unexploredRefs   map[int64]struct{}
	temporalFrontier map[int64]struct{}
}

func newGraph() *graph {
	return &graph{
		nodes:            make(map[int64]*chat.Message),
		unexploredRefs:   make(map[int64]struct{}),
		temporalFrontier: make(map[int64]struct{}),
	}
}

// add inserts a message and marks it for both exploration directions.
// Adding an id already present is a no-op and reports false.
func (g *graph) add(m *chat.Message) bool {
	if _, ok := g.nodes[m.ID]; ok {
		return false
	}
	g.nodes[m.ID] = m
	g.temporalFrontier[m.ID] = struct{}{}
	if m.ReplyToID != nil {
		g.unexploredRefs[m.ID] = struct{}{}
	}
	return true
}

func (g *graph) size() int { return len(g.nodes) }

// chronological emits the nodes in ascending created_at order, ties broken
// by id ascending.
func (g *graph) chronological() []ConversationMessage {
	ordered := make([]*chat.Message, 0, len(g.nodes))
	for _, m := range g.nodes {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	out := make([]ConversationMessage, 0, len(ordered))
	for _, m := range ordered {
		out = append(out, ConversationMessage{
			MessageID:  m.ID,
			AuthorID:   m.AuthorID,
			Content:    m.Content,
			Timestamp:  m.CreatedAt.UTC().Format(timestampLayout),
			MentionIDs: m.MentionIDs,
			ReplyToID:  m.ReplyToID,
		})
	}
	return out
}

// BuilderConfig bounds one assembly run.
type BuilderConfig struct {
	// MinLinear is the number of immediate predecessors seeded in bulk,
	// counting the trigger itself.
	MinLinear int
	// MaxTotal caps the number of collected messages.
	MaxTotal int
	// TimeThreshold is the largest gap a temporal step may cross.
	TimeThreshold time.Duration
}

// DefaultBuilderConfig matches the window the dispatcher uses for replies.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{MinLinear: 10, MaxTotal: 30, TimeThreshold: 30 * time.Minute}
}

// Builder assembles conversation context around a trigger message.
type Builder struct {
	gateway chat.Gateway
	cfg     BuilderConfig
}

// NewBuilder creates a Builder over the given gateway.
func NewBuilder(gateway chat.Gateway, cfg BuilderConfig) *Builder {
	if cfg.MinLinear < 1 {
		cfg.MinLinear = 1
	}
	if cfg.MaxTotal < cfg.MinLinear {
		cfg.MaxTotal = cfg.MinLinear
	}
	return &Builder{gateway: gateway, cfg: cfg}
}

// Build collects the context around trigger and returns it in ascending
// timestamp order. Fetch failures degrade to whatever is already assembled.
func (b *Builder) Build(ctx context.Context, trigger *chat.Message) []ConversationMessage {
	f := newFetcher(b.gateway, trigger.ChannelID)
	f.prime(trigger)

	g := newGraph()
	g.add(trigger)
	b.seed(ctx, f, g, trigger)

	for g.size() < b.cfg.MaxTotal {
		added := b.referenceStep(ctx, f, g)
		if g.size() >= b.cfg.MaxTotal {
			break
		}
		added += b.temporalStep(ctx, f, g)
		if added == 0 {
			break
		}
	}

	return g.chronological()
}

// seed walks the cached predecessor chain to collect up to MinLinear-1
// immediate predecessors of the trigger.
func (b *Builder) seed(ctx context.Context, f *fetcher, g *graph, trigger *chat.Message) {
	cur := trigger
	for i := 0; i < b.cfg.MinLinear-1 && g.size() < b.cfg.MaxTotal; i++ {
		prev, err := f.previous(ctx, cur.ID)
		if err != nil {
			slog.Warn("conversation seed fetch failed", "before_id", cur.ID, "error", err)
			return
		}
		if prev == nil {
			return
		}
		g.add(prev)
		cur = prev
	}
}

// referenceStep follows the reply edge of every currently-unexplored node.
// The unexplored mark is cleared whether or not the fetch succeeds.
func (b *Builder) referenceStep(ctx context.Context, f *fetcher, g *graph) int {
	ids := make([]int64, 0, len(g.unexploredRefs))
	for id := range g.unexploredRefs {
		ids = append(ids, id)
	}

	added := 0
	for _, id := range ids {
		node := g.nodes[id]
		delete(g.unexploredRefs, id)
		if node.ReplyToID == nil {
			continue
		}
		ref, err := f.message(ctx, *node.ReplyToID)
		if err != nil {
			slog.Warn("reply target fetch failed, treating as absent",
				"message_id", id, "reply_to_id", *node.ReplyToID, "error", err)
			continue
		}
		if g.add(ref) {
			added++
		}
		if g.size() >= b.cfg.MaxTotal {
			break
		}
	}
	return added
}

// temporalStep considers the channel predecessor of every frontier node in
// newest-first order. Each node is sealed (removed from the frontier) after
// exactly one attempt, whether or not its neighbor was admitted.
func (b *Builder) temporalStep(ctx context.Context, f *fetcher, g *graph) int {
	ids := make([]int64, 0, len(g.temporalFrontier))
	for id := range g.temporalFrontier {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		x, y := g.nodes[ids[i]], g.nodes[ids[j]]
		if x.CreatedAt.Equal(y.CreatedAt) {
			return x.ID > y.ID
		}
		return x.CreatedAt.After(y.CreatedAt)
	})

	added := 0
	for _, id := range ids {
		node := g.nodes[id]
		delete(g.temporalFrontier, id)
		prev, err := f.previous(ctx, id)
		if err != nil {
			slog.Warn("history fetch failed, stopping temporal walk", "before_id", id, "error", err)
			return added
		}
		if prev == nil {
			continue
		}
		if node.CreatedAt.Sub(prev.CreatedAt) <= b.cfg.TimeThreshold {
			if g.add(prev) {
				added++
			}
		}
		if g.size() >= b.cfg.MaxTotal {
			break
		}
	}
	return added
}
