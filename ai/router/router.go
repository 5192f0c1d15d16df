// Package router classifies an inbound message into a route and extracts
// the route's parameters with a second, deterministic call. Ambiguity is
// not a resolved decision: a NOTSURE reply advances the selection chain to
// the next model.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/banter/ai/core/llm"
	"github.com/hrygo/banter/ai/metrics"
)

// Route classifies an inbound message.
type Route string

const (
	RouteFamous  Route = "FAMOUS"
	RouteGeneral Route = "GENERAL"
	RouteFact    Route = "FACT"
	RouteNone    Route = "NONE"
	RouteNotSure Route = "NOTSURE"
)

// Backend names one of the general-query models a user may ask for.
type Backend string

const (
	BackendGeminiFlash Backend = "gemini_flash"
	BackendGrok        Backend = "grok"
	BackendClaude      Backend = "claude"
	BackendGemma       Backend = "gemma"
	BackendCodex       Backend = "codex"
)

// FamousParams parameterizes the famous-person route.
type FamousParams struct {
	FamousPerson string `json:"famous_person"`
	LanguageCode string `json:"language_code,omitempty"`
	LanguageName string `json:"language_name,omitempty"`
}

// GeneralParams parameterizes the general-query route.
type GeneralParams struct {
	AIBackend    Backend `json:"ai_backend"`
	Temperature  float32 `json:"temperature"`
	CleanedQuery string  `json:"cleaned_query"`
	LanguageCode string  `json:"language_code,omitempty"`
	LanguageName string  `json:"language_name,omitempty"`
}

// FactParams parameterizes the fact remember/forget route.
type FactParams struct {
	Operation    string `json:"operation"`
	UserMention  string `json:"user_mention"`
	FactContent  string `json:"fact_content"`
	LanguageCode string `json:"language_code,omitempty"`
	LanguageName string `json:"language_name,omitempty"`
}

// Decision is the router's full answer: the route, why, the detected
// language, and exactly one non-nil parameter set for parameterized routes.
type Decision struct {
	Route        Route
	Reason       string
	LanguageCode string
	LanguageName string

	Famous  *FamousParams
	General *GeneralParams
	Fact    *FactParams
}

// RouteSpec is what a generator contributes to routing: how to recognize
// its route and how to extract its parameters.
type RouteSpec struct {
	Route            Route
	Description      string
	ExtractionPrompt string
}

var routeSelectionSchema = llm.MustSchema("route_selection", `{
	"type": "object",
	"properties": {
		"route": {"type": "string", "enum": ["FAMOUS", "GENERAL", "FACT", "NONE", "NOTSURE"]},
		"reason": {"type": "string"}
	},
	"required": ["route", "reason"],
	"additionalProperties": false
}`)

type routeSelection struct {
	Route  Route  `json:"route"`
	Reason string `json:"reason"`
}

var languageSchema = llm.MustSchema("language_detection", `{
	"type": "object",
	"properties": {
		"language_code": {"type": "string"},
		"language_name": {"type": "string"}
	},
	"required": ["language_code", "language_name"],
	"additionalProperties": false
}`)

type languageDetection struct {
	LanguageCode string `json:"language_code"`
	LanguageName string `json:"language_name"`
}

var famousParamsSchema = llm.MustSchema("famous_params", `{
	"type": "object",
	"properties": {
		"famous_person": {"type": "string"}
	},
	"required": ["famous_person"],
	"additionalProperties": false
}`)

var generalParamsSchema = llm.MustSchema("general_params", `{
	"type": "object",
	"properties": {
		"ai_backend": {"type": "string", "enum": ["gemini_flash", "grok", "claude", "gemma", "codex"]},
		"temperature": {"type": "number", "minimum": 0, "maximum": 1},
		"cleaned_query": {"type": "string"}
	},
	"required": ["ai_backend", "temperature", "cleaned_query"],
	"additionalProperties": false
}`)

var factParamsSchema = llm.MustSchema("fact_params", `{
	"type": "object",
	"properties": {
		"operation": {"type": "string", "enum": ["remember", "forget"]},
		"user_mention": {"type": "string"},
		"fact_content": {"type": "string"}
	},
	"required": ["operation", "user_mention", "fact_content"],
	"additionalProperties": false
}`)

// IsNotSure reports whether a structurally valid selection answered
// NOTSURE. It is the bad-response predicate of the selection chain.
func IsNotSure(resp *llm.Response) bool {
	var sel routeSelection
	if err := json.Unmarshal(resp.Data, &sel); err != nil {
		return true
	}
	return sel.Route == RouteNotSure
}

// Router performs two-tier route selection over a chain of selection
// models, with language detection in parallel and deterministic parameter
// extraction.
type Router struct {
	selector  llm.Client
	detector  llm.Client
	extractor llm.Client
	specs     []RouteSpec
	metrics   *metrics.Exporter
}

// NewRouter builds the selection chain from the given clients, escalating
// on NOTSURE answers.
func NewRouter(selectors []llm.Client, detector, extractor llm.Client, specs []RouteSpec, m *metrics.Exporter) *Router {
	var rec llm.FallbackRecorder
	if m != nil {
		rec = m
	}
	opts := []llm.CompositeOption{llm.WithBadResponse(IsNotSure)}
	if rec != nil {
		opts = append(opts, llm.WithFallbackRecorder(rec))
	}
	return &Router{
		selector:  llm.NewCompositeClient(selectors, opts...),
		detector:  detector,
		extractor: extractor,
		specs:     specs,
		metrics:   m,
	}
}

// Route classifies message and extracts its parameters.
func (r *Router) Route(ctx context.Context, message string) (*Decision, error) {
	var sel routeSelection
	var lang languageDetection

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.selectRoute(gctx, message)
		if err != nil {
			return err
		}
		sel = s
		return nil
	})
	g.Go(func() error {
		l, err := r.detectLanguage(gctx, message)
		if err != nil {
			// Language is an annotation, not a gate.
			slog.Warn("language detection failed", "error", err)
			return nil
		}
		lang = l
		return nil
	})
	if err := g.Wait(); err != nil {
		r.metrics.RecordRoute(string(RouteNotSure), "error", lang.LanguageCode)
		return nil, err
	}

	decision := &Decision{
		Route:        sel.Route,
		Reason:       sel.Reason,
		LanguageCode: lang.LanguageCode,
		LanguageName: lang.LanguageName,
	}

	if sel.Route == RouteNone || sel.Route == RouteNotSure {
		r.metrics.RecordRoute(string(sel.Route), "success", lang.LanguageCode)
		return decision, nil
	}

	if err := r.extractParams(ctx, message, decision); err != nil {
		r.metrics.RecordRoute(string(sel.Route), "error", lang.LanguageCode)
		return nil, err
	}
	r.metrics.RecordRoute(string(sel.Route), "success", lang.LanguageCode)
	return decision, nil
}

const selectionPreamble = `Classify the user's message into exactly one route.
Answer NOTSURE only when the message genuinely fits none of the descriptions.

Routes:`

func (r *Router) selectRoute(ctx context.Context, message string) (routeSelection, error) {
	var sb strings.Builder
	sb.WriteString(selectionPreamble)
	sb.WriteString("\n")
	for _, spec := range r.specs {
		sb.WriteString("- ")
		sb.WriteString(string(spec.Route))
		sb.WriteString(": ")
		sb.WriteString(spec.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("- NONE: the message requires no reaction from the bot.\n")
	sb.WriteString("- NOTSURE: none of the above clearly applies.")

	resp, err := r.selector.Generate(ctx, &llm.Request{
		SystemPrompt: sb.String(),
		Message:      message,
		Schema:       routeSelectionSchema,
	})
	if err != nil {
		// The whole chain answering NOTSURE is a resolved NOTSURE, not a
		// failure.
		var comp *llm.CompositeError
		if errors.As(err, &comp) {
			return routeSelection{Route: RouteNotSure, Reason: "no model was confident"}, nil
		}
		return routeSelection{}, err
	}
	return llm.DecodeAs[routeSelection](resp)
}

const languagePrompt = `Identify the primary language of the message. Use the ISO 639-1 code and the English language name.`

func (r *Router) detectLanguage(ctx context.Context, message string) (languageDetection, error) {
	resp, err := r.detector.Generate(ctx, &llm.Request{
		SystemPrompt: languagePrompt,
		Message:      message,
		Schema:       languageSchema,
		Temperature:  llm.Temp(0),
	})
	if err != nil {
		return languageDetection{}, err
	}
	return llm.DecodeAs[languageDetection](resp)
}

// extractParams issues the deterministic tier-2 call for the selected route
// and annotates the result with the detected language.
func (r *Router) extractParams(ctx context.Context, message string, d *Decision) error {
	spec, ok := r.specFor(d.Route)
	if !ok {
		return &llm.ParseError{Provider: r.extractor.Name(), Detail: "no extraction spec for route " + string(d.Route)}
	}

	req := &llm.Request{
		SystemPrompt: spec.ExtractionPrompt,
		Message:      message,
		Temperature:  llm.Temp(0),
	}

	switch d.Route {
	case RouteFamous:
		req.Schema = famousParamsSchema
		resp, err := r.extractor.Generate(ctx, req)
		if err != nil {
			return err
		}
		params, err := llm.DecodeAs[FamousParams](resp)
		if err != nil {
			return err
		}
		params.LanguageCode, params.LanguageName = d.LanguageCode, d.LanguageName
		d.Famous = &params
	case RouteGeneral:
		req.Schema = generalParamsSchema
		resp, err := r.extractor.Generate(ctx, req)
		if err != nil {
			return err
		}
		params, err := llm.DecodeAs[GeneralParams](resp)
		if err != nil {
			return err
		}
		params.LanguageCode, params.LanguageName = d.LanguageCode, d.LanguageName
		d.General = &params
	case RouteFact:
		req.Schema = factParamsSchema
		resp, err := r.extractor.Generate(ctx, req)
		if err != nil {
			return err
		}
		params, err := llm.DecodeAs[FactParams](resp)
		if err != nil {
			return err
		}
		params.LanguageCode, params.LanguageName = d.LanguageCode, d.LanguageName
		d.Fact = &params
	}
	return nil
}

func (r *Router) specFor(route Route) (RouteSpec, bool) {
	for _, spec := range r.specs {
		if spec.Route == route {
			return spec, true
		}
	}
	return RouteSpec{}, false
}
