package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures a client for any OpenAI-compatible endpoint.
// Grok (api.x.ai), Gemma (OpenRouter), and Codex (api.openai.com) all speak
// this protocol.
type OpenAIConfig struct {
	Provider    string // stable name used in logs and metrics
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Vision      bool // model accepts image parts
	Limiter     *rate.Limiter
	Recorder    Recorder
}

// OpenAIClient is a Client over an OpenAI-compatible chat completion API.
// It has no native schema mode; structured output goes through the
// instruct-parse-repair protocol with JSON response format enabled.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

func (c *OpenAIClient) Name() string { return c.cfg.Provider }

func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.Grounding {
		return nil, &UnsupportedError{Provider: c.cfg.Provider, Feature: "grounding"}
	}
	if req.Image != nil && !c.cfg.Vision {
		return nil, &UnsupportedError{Provider: c.cfg.Provider, Feature: "image input"}
	}
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if req.Schema == nil {
		return c.call(ctx, req, nil, false)
	}
	return generateStructured(ctx, c.cfg.Provider, req.Schema, func(ctx context.Context, repairs []chatTurn) (*Response, error) {
		return c.call(ctx, req, repairs, true)
	})
}

func (c *OpenAIClient) call(ctx context.Context, req *Request, repairs []chatTurn, jsonMode bool) (*Response, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, repairs, jsonMode))
	if err != nil {
		err = c.mapError(err)
		record(c.cfg.Recorder, c.cfg.Provider, start, Usage{}, err)
		return nil, err
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%s returned no choices", c.cfg.Provider)
		record(c.cfg.Recorder, c.cfg.Provider, start, Usage{}, err)
		return nil, err
	}

	choice := resp.Choices[0]
	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	if choice.FinishReason == openai.FinishReasonContentFilter {
		err := &BlockedError{Provider: c.cfg.Provider, Reason: "content filter"}
		record(c.cfg.Recorder, c.cfg.Provider, start, usage, err)
		return nil, err
	}

	record(c.cfg.Recorder, c.cfg.Provider, start, usage, nil)
	return &Response{
		Text:     choice.Message.Content,
		Provider: c.cfg.Provider,
		Model:    resp.Model,
		Usage:    usage,
	}, nil
}

func (c *OpenAIClient) buildRequest(req *Request, repairs []chatTurn, jsonMode bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage

	system := req.SystemPrompt
	if jsonMode {
		if system != "" {
			system += "\n\n"
		}
		system += req.Schema.Instruction()
	}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, pair := range req.FewShot {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: pair.User},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: pair.Assistant},
		)
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message}
	if req.Image != nil {
		dataURL := fmt.Sprintf("data:%s;base64,%s", req.Image.MIME, base64.StdEncoding.EncodeToString(req.Image.Data))
		user = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Message},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		}
	}
	messages = append(messages, user)

	for _, turn := range repairs {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	temperature := c.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	out := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: temperature,
		Messages:    messages,
	}
	if jsonMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && (code == "content_filter" || code == "content_policy_violation") {
			return &BlockedError{Provider: c.cfg.Provider, Reason: apiErr.Message}
		}
	}
	slog.Debug("openai-compatible call failed", "provider", c.cfg.Provider, "error", err)
	return fmt.Errorf("%s: %w", c.cfg.Provider, err)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
