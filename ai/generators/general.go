package generators

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/ai/router"
)

// generalFallbackOrder is tried after the user's requested backend.
var generalFallbackOrder = []router.Backend{
	router.BackendGeminiFlash,
	router.BackendClaude,
	router.BackendGrok,
	router.BackendGemma,
	router.BackendCodex,
}

// GeneralGenerator answers free-form questions with the backend the user
// asked for, falling back through the remaining models on failure.
type GeneralGenerator struct {
	backends map[router.Backend]llm.Client
}

// NewGeneralGenerator creates the general-query generator over the
// available backends.
func NewGeneralGenerator(backends map[router.Backend]llm.Client) *GeneralGenerator {
	return &GeneralGenerator{backends: backends}
}

func (g *GeneralGenerator) Spec() router.RouteSpec {
	return router.RouteSpec{
		Route:            router.RouteGeneral,
		Description:      "the user asks the bot a question or requests an opinion, optionally naming a preferred model",
		ExtractionPrompt: "Extract the cleaned query without the bot address, the model the user asked for (gemini_flash when unspecified), and a temperature in [0,1] matching how creative the answer should be.",
	}
}

// chainFor builds the per-call chain: the requested backend first, then the
// fixed fallback order.
func (g *GeneralGenerator) chainFor(primary router.Backend) llm.Client {
	var clients []llm.Client
	if c, ok := g.backends[primary]; ok {
		clients = append(clients, c)
	}
	for _, b := range generalFallbackOrder {
		if b == primary {
			continue
		}
		if c, ok := g.backends[b]; ok {
			clients = append(clients, c)
		}
	}
	return llm.NewCompositeClient(clients)
}

func (g *GeneralGenerator) Generate(ctx context.Context, req *Request) (string, error) {
	params := req.Decision.General
	if params == nil {
		return "", fmt.Errorf("general route dispatched without parameters")
	}

	var sb strings.Builder
	sb.WriteString("You are a sharp, friendly chat participant. Answer the question using the conversation and what you know about the participants.\n")
	sb.WriteString("Keep it conversational; no markdown headers.\n")
	if line := languageLine(params.LanguageCode, params.LanguageName); line != "" {
		sb.WriteString(line)
	}

	body := promptBody(req) + "\n<question>" + params.CleanedQuery + "</question>"
	resp, err := g.chainFor(params.AIBackend).Generate(ctx, &llm.Request{
		SystemPrompt: sb.String(),
		Message:      body,
		Temperature:  llm.Temp(params.Temperature),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
