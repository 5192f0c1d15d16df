package generators

import (
	"context"

	"github.com/hrygo/banter/ai/core/llm"
)

// AdvocateGenerator argues the opposite of a message's position. It is
// reaction-triggered, not routed.
type AdvocateGenerator struct {
	chain llm.Client
}

// NewAdvocateGenerator creates the devil's-advocate generator over the
// given provider chain.
func NewAdvocateGenerator(chain llm.Client) *AdvocateGenerator {
	return &AdvocateGenerator{chain: chain}
}

const advocatePrompt = `Play devil's advocate against the quoted message. Make the strongest honest case for the opposite position in a few sentences.
Match the language of the quoted message. Be pointed, not rude.`

// Generate produces the counter-argument for one quoted message.
func (g *AdvocateGenerator) Generate(ctx context.Context, quoted string) (string, error) {
	resp, err := g.chain.Generate(ctx, &llm.Request{
		SystemPrompt: advocatePrompt,
		Message:      quoted,
		Temperature:  llm.Temp(0.7),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
