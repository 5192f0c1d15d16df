package generators

import (
	"context"

	"github.com/hrygo/banter/ai/core/llm"
)

// WisdomGenerator reframes a message as a piece of timeless wisdom. It is
// reaction-triggered, not routed.
type WisdomGenerator struct {
	chain llm.Client
}

// NewWisdomGenerator creates the wisdom generator over the given provider
// chain.
func NewWisdomGenerator(chain llm.Client) *WisdomGenerator {
	return &WisdomGenerator{chain: chain}
}

const wisdomPrompt = `Take the quoted message and restate its essence as a short piece of proverb-like wisdom, at most two sentences.
Match the language of the quoted message. Do not mention the message or its author.`

// Generate produces the wisdom reply for one quoted message.
func (g *WisdomGenerator) Generate(ctx context.Context, quoted string) (string, error) {
	resp, err := g.chain.Generate(ctx, &llm.Request{
		SystemPrompt: wisdomPrompt,
		Message:      quoted,
		Temperature:  llm.Temp(0.8),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
