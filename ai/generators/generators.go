// Package generators holds the per-route reply producers and the
// dispatcher that feeds them conversation context and memories.
package generators

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hrygo/banter/ai/conversation"
	"github.com/hrygo/banter/ai/memory"
	"github.com/hrygo/banter/ai/postprocess"
	"github.com/hrygo/banter/ai/router"
	"github.com/hrygo/banter/chat"
)

// Request carries everything a generator needs to produce a reply.
type Request struct {
	Decision     *router.Decision
	Trigger      *chat.Message
	Conversation string
	Memories     string
	Participants []int64
}

// Generator produces the reply for one route.
type Generator interface {
	Spec() router.RouteSpec
	Generate(ctx context.Context, req *Request) (string, error)
}

// Dispatcher assembles context and memories for a routed message, invokes
// the matching generator, and fits the reply to the platform limit.
type Dispatcher struct {
	builder    *conversation.Builder
	formatter  *conversation.Formatter
	memories   *memory.Manager
	post       *postprocess.Processor
	generators map[router.Route]Generator
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(
	builder *conversation.Builder,
	formatter *conversation.Formatter,
	memories *memory.Manager,
	post *postprocess.Processor,
	gens ...Generator,
) *Dispatcher {
	byRoute := make(map[router.Route]Generator, len(gens))
	for _, g := range gens {
		byRoute[g.Spec().Route] = g
	}
	return &Dispatcher{
		builder:    builder,
		formatter:  formatter,
		memories:   memories,
		post:       post,
		generators: byRoute,
	}
}

// Specs returns the route specs of the registered generators, for the
// router's selection prompt.
func (d *Dispatcher) Specs() []router.RouteSpec {
	specs := make([]router.RouteSpec, 0, len(d.generators))
	for _, g := range d.generators {
		specs = append(specs, g.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Route < specs[j].Route })
	return specs
}

// Dispatch produces the reply for a routed message. NONE and NOTSURE yield
// an empty reply.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *router.Decision, trigger *chat.Message) (string, error) {
	gen, ok := d.generators[decision.Route]
	if !ok {
		return "", nil
	}

	msgs := d.builder.Build(ctx, trigger)
	participants := collectParticipants(msgs)
	mems := d.memories.GetMemories(ctx, trigger.GuildID, participants)

	req := &Request{
		Decision:     decision,
		Trigger:      trigger,
		Conversation: d.formatter.Format(ctx, trigger.GuildID, msgs),
		Memories:     d.renderMemories(ctx, trigger.GuildID, mems),
		Participants: participants,
	}

	reply, err := gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return d.post.Process(ctx, reply), nil
}

// collectParticipants gathers the distinct authors and mention targets of
// the window, minus the article sentinel.
func collectParticipants(msgs []conversation.ConversationMessage) []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	add := func(id int64) {
		if id == chat.ArticleUserID {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, m := range msgs {
		add(m.AuthorID)
		for _, id := range m.MentionIDs {
			add(id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// renderMemories formats the memory block for prompts. The block names
// users, never internal storage concepts.
func (d *Dispatcher) renderMemories(ctx context.Context, guildID int64, mems map[int64]string) string {
	if len(mems) == 0 {
		return ""
	}
	ids := make([]int64, 0, len(mems))
	for id := range mems {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, "<memory>\n<name>%s</name>\n<facts>%s</facts>\n</memory>\n",
			d.formatter.DisplayName(ctx, guildID, id), mems[id])
	}
	return sb.String()
}

// languageLine renders the reply-language instruction shared by the
// generators.
func languageLine(code, name string) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf("Reply in %s (%s).", name, code)
}
