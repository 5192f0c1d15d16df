package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiConfig configures a Gemini-backed client.
type GeminiConfig struct {
	Provider    string // e.g. "gemini_flash", "gemini_pro"
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
	Limiter     *rate.Limiter
	Recorder    Recorder
}

// GeminiClient is a Client over the Gemini API. It is the only backend that
// supports grounding (Google Search); structured output uses JSON response
// MIME plus the in-prompt schema contract.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &GeminiClient{client: client, cfg: cfg}, nil
}

func (c *GeminiClient) Name() string { return c.cfg.Provider }

func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.Grounding && req.Schema != nil {
		// The API rejects search tools combined with JSON response mode.
		return nil, &UnsupportedError{Provider: c.cfg.Provider, Feature: "grounding with structured output"}
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

func (c *GeminiClient) call(ctx context.Context, req *Request, repairs []chatTurn) (*Response, error) {
	start := time.Now()

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: c.cfg.MaxTokens,
	}
	temperature := c.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	config.Temperature = genai.Ptr(temperature)

	system := req.SystemPrompt
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		if system != "" {
			system += "\n\n"
		}
		system += req.Schema.Instruction()
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Grounding {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	var contents []*genai.Content
	for _, pair := range req.FewShot {
		contents = append(contents,
			genai.NewContentFromText(pair.User, genai.RoleUser),
			genai.NewContentFromText(pair.Assistant, genai.RoleModel),
		)
	}

	userParts := []*genai.Part{genai.NewPartFromText(req.Message)}
	if req.Image != nil {
		userParts = append(userParts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIME))
	}
	contents = append(contents, genai.NewContentFromParts(userParts, genai.RoleUser))

	for _, turn := range repairs {
		var role genai.Role = genai.RoleUser
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, config)
	if err != nil {
		record(c.cfg.Recorder, c.cfg.Provider, start, Usage{}, err)
		return nil, fmt.Errorf("%s: %w", c.cfg.Provider, err)
	}

	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if blocked, reason := geminiBlocked(resp); blocked {
		err := &BlockedError{Provider: c.cfg.Provider, Reason: reason}
		record(c.cfg.Recorder, c.cfg.Provider, start, usage, err)
		return nil, err
	}

	text := resp.Text()
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

func geminiBlocked(resp *genai.GenerateContentResponse) (bool, string) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return true, string(resp.PromptFeedback.BlockReason)
	}
	for _, cand := range resp.Candidates {
		switch cand.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			return true, string(cand.FinishReason)
		}
	}
	return false, ""
}
