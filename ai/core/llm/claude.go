package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// ClaudeConfig configures a Claude-backed client.
type ClaudeConfig struct {
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	Limiter     *rate.Limiter
	Recorder    Recorder
}

// ClaudeClient is a Client over the Anthropic Messages API. Claude has no
// native schema mode, so structured output goes through the
// instruct-parse-repair protocol.
type ClaudeClient struct {
	client anthropic.Client
	cfg    ClaudeConfig
}

// NewClaudeClient creates a Claude client.
func NewClaudeClient(cfg ClaudeConfig) *ClaudeClient {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}
}

func (c *ClaudeClient) Name() string { return c.cfg.Provider }

func (c *ClaudeClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.Grounding {
		return nil, &UnsupportedError{Provider: c.cfg.Provider, Feature: "grounding"}
	}
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if req.Schema == nil {
		return c.call(ctx, req, nil)
	}
	return generateStructured(ctx, c.cfg.Provider, req.Schema, func(ctx context.Context, repairs []chatTurn) (*Response, error) {
		return c.call(ctx, req, repairs)
	})
}

func (c *ClaudeClient) call(ctx context.Context, req *Request, repairs []chatTurn) (*Response, error) {
	start := time.Now()

	var messages []anthropic.MessageParam
	for _, pair := range req.FewShot {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(pair.User)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(pair.Assistant)),
		)
	}

	userBlocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Message)}
	if req.Image != nil {
		encoded := base64.StdEncoding.EncodeToString(req.Image.Data)
		userBlocks = append(userBlocks, anthropic.NewImageBlockBase64(req.Image.MIME, encoded))
	}
	messages = append(messages, anthropic.NewUserMessage(userBlocks...))

	for _, turn := range repairs {
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	system := req.SystemPrompt
	if req.Schema != nil {
		if system != "" {
			system += "\n\n"
		}
		system += req.Schema.Instruction()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	temperature := c.cfg.Temperature
	if req.Temperature != nil {
		temperature = float64(*req.Temperature)
	}
	params.Temperature = anthropic.Float(temperature)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		record(c.cfg.Recorder, c.cfg.Provider, start, Usage{}, err)
		return nil, fmt.Errorf("%s: %w", c.cfg.Provider, err)
	}

	usage := Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}

	if string(msg.StopReason) == "refusal" {
		err := &BlockedError{Provider: c.cfg.Provider, Reason: "refusal"}
		record(c.cfg.Recorder, c.cfg.Provider, start, usage, err)
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if text == "" {
		err := fmt.Errorf("%s returned an empty response", c.cfg.Provider)
		record(c.cfg.Recorder, c.cfg.Provider, start, usage, err)
		return nil, err
	}

	record(c.cfg.Recorder, c.cfg.Provider, start, usage, nil)
	return &Response{
		Text:     text,
		Provider: c.cfg.Provider,
		Model:    c.cfg.Model,
		Usage:    usage,
	}, nil
}
