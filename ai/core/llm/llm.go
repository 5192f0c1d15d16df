// Package llm provides the provider abstraction of the reasoning pipeline:
// concrete clients for heterogeneous LLM backends, a retry wrapper, and an
// ordered/shuffled composite with bad-response fallback.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// ExchangePair is a single few-shot example: a user turn and the assistant
// turn that should answer it.
type ExchangePair struct {
	User      string
	Assistant string
}

// Image is an inline image payload for vision-capable models.
type Image struct {
	MIME string
	Data []byte
}

// Request describes a single generation call. Message is the final user turn;
// Schema, when set, requires the reply to validate against it.
type Request struct {
	Message      string
	SystemPrompt string
	FewShot      []ExchangePair
	Grounding    bool
	Schema       *Schema
	Temperature  *float32
	Image        *Image
}

// Usage holds token counts when the provider reports them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the provider reply. Data is set when the request carried a
// Schema and holds the validated JSON payload.
type Response struct {
	Text     string
	Data     json.RawMessage
	Provider string
	Model    string
	Usage    Usage
}

// Client is one LLM backend. Implementations must reject unsupported request
// options with a typed error rather than silently ignoring them; the only
// permitted degradation is warn-and-continue on FewShot for single-turn
// providers.
type Client interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Recorder receives per-call telemetry. ai/metrics implements it; a nil
// Recorder is valid and drops everything.
type Recorder interface {
	ObserveProviderCall(provider, outcome string, duration time.Duration, usage Usage)
}

// Call outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeBlocked = "blocked"
)

func record(r Recorder, provider string, start time.Time, usage Usage, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	switch {
	case IsBlocked(err):
		outcome = OutcomeBlocked
	case err != nil:
		outcome = OutcomeError
	}
	r.ObserveProviderCall(provider, outcome, time.Since(start), usage)
}

// Temp is a convenience for building Request.Temperature values.
func Temp(t float32) *float32 { return &t }

// DecodeAs unmarshals a schema-typed response payload into T.
func DecodeAs[T any](resp *Response) (T, error) {
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		return v, &ParseError{Provider: resp.Provider, Detail: err.Error(), Raw: string(resp.Data)}
	}
	return v, nil
}
