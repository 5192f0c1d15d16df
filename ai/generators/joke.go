package generators

import (
	"context"
	"math"
	"math/rand"

	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/store"
)

// JokeGenerator answers a message with a joke, using the guild's
// best-received jokes as few-shot examples. It is reaction-triggered.
type JokeGenerator struct {
	store    *store.Store
	chain    llm.Client
	poolSize int
	exponent float64
	fewShot  int
}

// NewJokeGenerator creates the joke generator. poolSize bounds how many
// stored pairs are sampled from; exponent skews sampling toward pairs with
// more reactions.
func NewJokeGenerator(s *store.Store, chain llm.Client, poolSize int, exponent float64) *JokeGenerator {
	if poolSize <= 0 {
		poolSize = 50
	}
	if exponent <= 0 {
		exponent = 1
	}
	return &JokeGenerator{store: s, chain: chain, poolSize: poolSize, exponent: exponent, fewShot: 5}
}

const jokePrompt = `Reply to the message with a short joke in the same language. One or two sentences, no preamble, no emoji spam.`

// Generate produces a joke reply to the quoted message.
func (g *JokeGenerator) Generate(ctx context.Context, quoted string) (string, error) {
	pairs, err := g.store.ListJokePairs(ctx, g.poolSize)
	if err != nil {
		return "", err
	}

	resp, err := g.chain.Generate(ctx, &llm.Request{
		SystemPrompt: jokePrompt,
		FewShot:      g.sampleFewShot(pairs),
		Message:      quoted,
		Temperature:  llm.Temp(1),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// RecordJoke stores a delivered joke and its source so future replies can
// learn from it.
func (g *JokeGenerator) RecordJoke(ctx context.Context, source, joke *store.Message) error {
	return g.store.CreateJokePair(ctx, source, joke)
}

// AddReaction bumps the sampling weight of a recorded joke.
func (g *JokeGenerator) AddReaction(ctx context.Context, jokeMessageID int64) error {
	return g.store.AddJokeReaction(ctx, jokeMessageID, 1)
}

// sampleFewShot draws up to fewShot distinct pairs, weighted by
// reaction_count^exponent so crowd favorites dominate without starving the
// rest.
func (g *JokeGenerator) sampleFewShot(pairs []*store.JokePair) []llm.ExchangePair {
	if len(pairs) == 0 {
		return nil
	}

	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		weights[i] = math.Pow(float64(p.ReactionCount)+1, g.exponent)
	}

	n := g.fewShot
	if n > len(pairs) {
		n = len(pairs)
	}
	var out []llm.ExchangePair
	for len(out) < n {
		i := weightedPick(weights)
		if i < 0 {
			break
		}
		out = append(out, llm.ExchangePair{User: pairs[i].SourceContent, Assistant: pairs[i].JokeContent})
		weights[i] = 0
	}
	return out
}

func weightedPick(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return -1
	}
	r := rand.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(weights) - 1
}
