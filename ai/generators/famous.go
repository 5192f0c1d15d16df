package generators

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/ai/router"
)

// FamousGenerator impersonates a named public figure in the conversation's
// language.
type FamousGenerator struct {
	chain llm.Client
}

// NewFamousGenerator creates the famous-person generator over the given
// provider chain.
func NewFamousGenerator(chain llm.Client) *FamousGenerator {
	return &FamousGenerator{chain: chain}
}

func (g *FamousGenerator) Spec() router.RouteSpec {
	return router.RouteSpec{
		Route:            router.RouteFamous,
		Description:      "the user asks the bot to answer in the voice of a specific famous person, fictional character or public figure",
		ExtractionPrompt: "Extract the famous person or character the user wants an answer from. Use the most widely known form of the name.",
	}
}

func (g *FamousGenerator) Generate(ctx context.Context, req *Request) (string, error) {
	params := req.Decision.Famous
	if params == nil {
		return "", fmt.Errorf("famous route dispatched without parameters")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. Answer the last message of the conversation in their voice, with their opinions and manner of speech.\n", params.FamousPerson)
	sb.WriteString("Stay in character. Keep it short enough for a chat message.\n")
	if line := languageLine(params.LanguageCode, params.LanguageName); line != "" {
		sb.WriteString(line)
	}

	resp, err := g.chain.Generate(ctx, &llm.Request{
		SystemPrompt: sb.String(),
		Message:      promptBody(req),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// promptBody concatenates the memory block and the rendered conversation.
func promptBody(req *Request) string {
	if req.Memories == "" {
		return req.Conversation
	}
	return req.Memories + "\n" + req.Conversation
}
