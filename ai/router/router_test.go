package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/banter/ai/core/llm"
)

type scriptedClient struct {
	name string
	mu   sync.Mutex
	n    int
	// data keyed by schema name lets one client serve selection, language
	// and extraction calls.
	data map[string]string
}

func (c *scriptedClient) Name() string { return c.name }

func (c *scriptedClient) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	payload := c.data[req.Schema.Name]
	return &llm.Response{Text: payload, Data: json.RawMessage(payload), Provider: c.name}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

var testSpecs = []RouteSpec{
	{Route: RouteFamous, Description: "impersonate a famous person", ExtractionPrompt: "extract the famous person"},
	{Route: RouteGeneral, Description: "answer a general question", ExtractionPrompt: "extract the query"},
	{Route: RouteFact, Description: "remember or forget a fact about a user", ExtractionPrompt: "extract the fact operation"},
}

func english() map[string]string {
	return map[string]string{
		"language_detection": `{"language_code": "en", "language_name": "English"}`,
	}
}

func TestRoute_FactRemember(t *testing.T) {
	selector := &scriptedClient{name: "primary", data: map[string]string{
		"route_selection": `{"route": "FACT", "reason": "asks the bot to remember"}`,
	}}
	detector := &scriptedClient{name: "detector", data: english()}
	extractor := &scriptedClient{name: "extractor", data: map[string]string{
		"fact_params": `{"operation": "remember", "user_mention": "gruzilkin", "fact_content": "gruzilkin is Sergey"}`,
	}}
	r := NewRouter([]llm.Client{selector}, detector, extractor, testSpecs, nil)

	d, err := r.Route(context.Background(), "Bot remember that gruzilkin is Sergey")
	require.NoError(t, err)
	assert.Equal(t, RouteFact, d.Route)
	require.NotNil(t, d.Fact)
	assert.Equal(t, "remember", d.Fact.Operation)
	assert.Equal(t, "gruzilkin", d.Fact.UserMention)
	assert.Contains(t, d.Fact.FactContent, "Sergey")
	assert.Equal(t, "en", d.Fact.LanguageCode)
	assert.Nil(t, d.General)
	assert.Nil(t, d.Famous)
}

func TestRoute_NotSureEscalatesToSecondary(t *testing.T) {
	primary := &scriptedClient{name: "primary", data: map[string]string{
		"route_selection": `{"route": "NOTSURE", "reason": "ambiguous"}`,
	}}
	secondary := &scriptedClient{name: "secondary", data: map[string]string{
		"route_selection": `{"route": "GENERAL", "reason": "clear question"}`,
	}}
	detector := &scriptedClient{name: "detector", data: english()}
	extractor := &scriptedClient{name: "extractor", data: map[string]string{
		"general_params": `{"ai_backend": "claude", "temperature": 0.7, "cleaned_query": "what is a monad"}`,
	}}
	r := NewRouter([]llm.Client{primary, secondary}, detector, extractor, testSpecs, nil)

	d, err := r.Route(context.Background(), "bot what is a monad")
	require.NoError(t, err)
	assert.Equal(t, RouteGeneral, d.Route)
	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, 1, secondary.calls(), "secondary invoked exactly once")
	require.NotNil(t, d.General)
	assert.Equal(t, BackendClaude, d.General.AIBackend)
	assert.Equal(t, "what is a monad", d.General.CleanedQuery)
	assert.Equal(t, 1, extractor.calls(), "tier-2 extraction proceeds")
}

func TestRoute_AllNotSureResolvesToNotSure(t *testing.T) {
	unsure := map[string]string{"route_selection": `{"route": "NOTSURE", "reason": "ambiguous"}`}
	a := &scriptedClient{name: "a", data: unsure}
	b := &scriptedClient{name: "b", data: unsure}
	detector := &scriptedClient{name: "detector", data: english()}
	extractor := &scriptedClient{name: "extractor", data: map[string]string{}}
	r := NewRouter([]llm.Client{a, b}, detector, extractor, testSpecs, nil)

	d, err := r.Route(context.Background(), "hmm")
	require.NoError(t, err)
	assert.Equal(t, RouteNotSure, d.Route)
	assert.Nil(t, d.Famous)
	assert.Nil(t, d.General)
	assert.Nil(t, d.Fact)
	assert.Equal(t, 0, extractor.calls(), "no tier-2 call for NOTSURE")
}

func TestRoute_NoneCarriesNoParams(t *testing.T) {
	selector := &scriptedClient{name: "primary", data: map[string]string{
		"route_selection": `{"route": "NONE", "reason": "small talk between users"}`,
	}}
	detector := &scriptedClient{name: "detector", data: english()}
	extractor := &scriptedClient{name: "extractor", data: map[string]string{}}
	r := NewRouter([]llm.Client{selector}, detector, extractor, testSpecs, nil)

	d, err := r.Route(context.Background(), "lol")
	require.NoError(t, err)
	assert.Equal(t, RouteNone, d.Route)
	assert.Nil(t, d.Famous)
	assert.Nil(t, d.General)
	assert.Nil(t, d.Fact)
	assert.Equal(t, 0, extractor.calls())
}

func TestRoute_FamousAnnotatedWithLanguage(t *testing.T) {
	selector := &scriptedClient{name: "primary", data: map[string]string{
		"route_selection": `{"route": "FAMOUS", "reason": "asks for an impersonation"}`,
	}}
	detector := &scriptedClient{name: "detector", data: map[string]string{
		"language_detection": `{"language_code": "ru", "language_name": "Russian"}`,
	}}
	extractor := &scriptedClient{name: "extractor", data: map[string]string{
		"famous_params": `{"famous_person": "Hemingway"}`,
	}}
	r := NewRouter([]llm.Client{selector}, detector, extractor, testSpecs, nil)

	d, err := r.Route(context.Background(), "ответь как Хемингуэй")
	require.NoError(t, err)
	require.NotNil(t, d.Famous)
	assert.Equal(t, "Hemingway", d.Famous.FamousPerson)
	assert.Equal(t, "ru", d.Famous.LanguageCode)
	assert.Equal(t, "Russian", d.Famous.LanguageName)
}

func TestIsNotSure(t *testing.T) {
	assert.True(t, IsNotSure(&llm.Response{Data: json.RawMessage(`{"route": "NOTSURE", "reason": "x"}`)}))
	assert.False(t, IsNotSure(&llm.Response{Data: json.RawMessage(`{"route": "GENERAL", "reason": "x"}`)}))
	assert.True(t, IsNotSure(&llm.Response{Data: json.RawMessage(`garbage`)}))
}
