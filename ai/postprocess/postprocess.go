// Package postprocess fits generated replies into the chat platform's
// length limit, preferring an AI summary over a hard cut.
package postprocess

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hrygo/banter/ai/core/llm"
)

// DefaultLimit is the message length limit of the deployed chat service.
const DefaultLimit = 2000

// Processor shortens replies that overrun the platform limit.
type Processor struct {
	limit      int
	summarizer llm.Client
}

// NewProcessor creates a Processor. A nil summarizer skips straight to
// truncation.
func NewProcessor(limit int, summarizer llm.Client) *Processor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Processor{limit: limit, summarizer: summarizer}
}

// Process returns text unchanged when it fits, otherwise summarizes it to
// roughly ninety percent of the limit and falls back to truncation when the
// summary overruns or fails.
func (p *Processor) Process(ctx context.Context, text string) string {
	if len([]rune(text)) <= p.limit {
		return text
	}

	target := p.limit * 9 / 10 / 100 * 100
	if p.summarizer != nil {
		resp, err := p.summarizer.Generate(ctx, &llm.Request{
			SystemPrompt: fmt.Sprintf(
				"Shorten the message to at most %d characters. Keep the tone, the language and every essential point. Reply with the shortened message only.",
				target),
			Message: text,
		})
		if err != nil {
			slog.Warn("reply summarization failed, truncating", "error", err)
		} else if len([]rune(resp.Text)) <= p.limit {
			return resp.Text
		}
	}

	return p.truncate(text)
}

func (p *Processor) truncate(text string) string {
	runes := []rune(text)
	return string(runes[:p.limit-3]) + "..."
}
