package generators

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hrygo/banter/ai/conversation"
	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/ai/memory"
	"github.com/hrygo/banter/ai/router"
)

var factUpdateSchema = llm.MustSchema("fact_update", `{
	"type": "object",
	"properties": {
		"updated_memory": {"type": "string"},
		"answer": {"type": "string"}
	},
	"required": ["updated_memory", "answer"],
	"additionalProperties": false
}`)

type factUpdatePayload struct {
	UpdatedMemory string `json:"updated_memory"`
	Answer        string `json:"answer"`
}

var mentionToken = regexp.MustCompile(`<@!?(\d+)>`)

// FactGenerator mutates a user's long-term facts and confirms the change
// in the detected language.
type FactGenerator struct {
	memories  *memory.Manager
	formatter *conversation.Formatter
	chain     llm.Client
}

// NewFactGenerator creates the fact remember/forget generator.
func NewFactGenerator(memories *memory.Manager, formatter *conversation.Formatter, chain llm.Client) *FactGenerator {
	return &FactGenerator{memories: memories, formatter: formatter, chain: chain}
}

func (g *FactGenerator) Spec() router.RouteSpec {
	return router.RouteSpec{
		Route:            router.RouteFact,
		Description:      "the user tells the bot to remember or forget a fact about a specific user",
		ExtractionPrompt: "Extract whether the user wants the bot to remember or forget, the mention or name of the user the fact is about, and the fact itself.",
	}
}

func (g *FactGenerator) Generate(ctx context.Context, req *Request) (string, error) {
	params := req.Decision.Fact
	if params == nil {
		return "", fmt.Errorf("fact route dispatched without parameters")
	}

	userID, ok := g.resolveUser(ctx, req, params.UserMention)
	if !ok {
		return fmt.Sprintf("I couldn't identify the user %q.", params.UserMention), nil
	}

	facts, err := g.memories.GetFacts(ctx, req.Trigger.GuildID, userID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You maintain short factual notes about a chat user. Operation: %s.\n", params.Operation)
	sb.WriteString("Apply the operation to the current notes and return the full updated notes plus a one-sentence confirmation for the user.\n")
	if line := languageLine(params.LanguageCode, params.LanguageName); line != "" {
		sb.WriteString("Write the confirmation as follows: " + line)
	}

	body := fmt.Sprintf("<current_notes>%s</current_notes>\n<fact>%s</fact>", facts, params.FactContent)
	resp, err := g.chain.Generate(ctx, &llm.Request{
		SystemPrompt: sb.String(),
		Message:      body,
		Schema:       factUpdateSchema,
		Temperature:  llm.Temp(0),
	})
	if err != nil {
		return "", err
	}
	payload, err := llm.DecodeAs[factUpdatePayload](resp)
	if err != nil {
		return "", err
	}

	if err := g.memories.SetFacts(ctx, req.Trigger.GuildID, userID, payload.UpdatedMemory); err != nil {
		return "", err
	}
	return payload.Answer, nil
}

// resolveUser maps a mention token or plain name to a participant id. A raw
// mention token wins; otherwise display names of the window's participants
// are matched case-insensitively.
func (g *FactGenerator) resolveUser(ctx context.Context, req *Request, mention string) (int64, bool) {
	if sub := mentionToken.FindStringSubmatch(mention); sub != nil {
		id, err := strconv.ParseInt(sub[1], 10, 64)
		if err == nil {
			return id, true
		}
	}

	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(mention), "@"))
	if name == "" {
		return 0, false
	}
	for _, id := range req.Participants {
		display := strings.ToLower(g.formatter.DisplayName(ctx, req.Trigger.GuildID, id))
		if display == name || strings.Contains(display, name) {
			return id, true
		}
	}
	return 0, false
}
