package postprocess

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/banter/ai/core/llm"
)

type fakeSummarizer struct {
	mu   sync.Mutex
	n    int
	text string
	err  error
}

func (f *fakeSummarizer) Name() string { return "fake" }

func (f *fakeSummarizer) Generate(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text}, nil
}

func TestProcess_ShortReplyPassesThrough(t *testing.T) {
	s := &fakeSummarizer{text: "unused"}
	p := NewProcessor(100, s)

	assert.Equal(t, "fine as is", p.Process(context.Background(), "fine as is"))
	assert.Equal(t, 0, s.n)
}

func TestProcess_LongReplySummarized(t *testing.T) {
	s := &fakeSummarizer{text: "short version"}
	p := NewProcessor(100, s)

	out := p.Process(context.Background(), strings.Repeat("a", 150))
	assert.Equal(t, "short version", out)
	assert.Equal(t, 1, s.n)
}

func TestProcess_SummaryOverrunTruncates(t *testing.T) {
	s := &fakeSummarizer{text: strings.Repeat("b", 150)}
	p := NewProcessor(100, s)

	out := p.Process(context.Background(), strings.Repeat("a", 150))
	assert.Equal(t, strings.Repeat("a", 97)+"...", out)
	assert.LessOrEqual(t, len([]rune(out)), 100)
}

func TestProcess_SummarizerFailureTruncates(t *testing.T) {
	s := &fakeSummarizer{err: errors.New("down")}
	p := NewProcessor(100, s)

	out := p.Process(context.Background(), strings.Repeat("a", 150))
	assert.Equal(t, strings.Repeat("a", 97)+"...", out)
}

func TestProcess_MultibyteRuneSafety(t *testing.T) {
	p := NewProcessor(100, nil)

	out := p.Process(context.Background(), strings.Repeat("п", 150))
	assert.LessOrEqual(t, len([]rune(out)), 100)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestProcess_LengthBoundHolds(t *testing.T) {
	p := NewProcessor(50, nil)
	inputs := []string{
		"",
		"short",
		strings.Repeat("x", 50),
		strings.Repeat("x", 51),
		strings.Repeat("日本語", 100),
	}
	for _, in := range inputs {
		out := p.Process(context.Background(), in)
		assert.LessOrEqual(t, len([]rune(out)), 50)
	}
}
