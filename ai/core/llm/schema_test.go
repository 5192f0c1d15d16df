package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routeTestSchema = MustSchema("route_test", `{
	"type": "object",
	"properties": {
		"route": {"type": "string", "enum": ["FAMOUS", "GENERAL", "FACT", "NONE"]},
		"confidence": {"type": "number"}
	},
	"required": ["route"],
	"additionalProperties": false
}`)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced with tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no trailing newline", "```json\n{\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"fence glued to payload", "```{\"a\":1}\n```", "{\"a\":1}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripFences(tc.in))
		})
	}
}

func TestSchemaValidateText(t *testing.T) {
	data, err := routeTestSchema.ValidateText(`{"route": "FAMOUS", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"route": "FAMOUS", "confidence": 0.9}`, string(data))

	_, err = routeTestSchema.ValidateText(`{"route": "BOGUS"}`)
	assert.Error(t, err, "value outside enum must fail")

	_, err = routeTestSchema.ValidateText(`{"confidence": 0.9}`)
	assert.Error(t, err, "missing required field must fail")

	_, err = routeTestSchema.ValidateText(`not json at all`)
	assert.Error(t, err)
}

func TestSchemaEnumHint(t *testing.T) {
	hint := routeTestSchema.EnumHint()
	assert.Contains(t, hint, "route")
	assert.Contains(t, hint, "FAMOUS")
	assert.Contains(t, hint, "NONE")

	noEnums := MustSchema("free", `{"type": "object", "properties": {"text": {"type": "string"}}}`)
	assert.Empty(t, noEnums.EnumHint())
}

func TestGenerateStructured_ValidFirstTry(t *testing.T) {
	calls := 0
	send := func(_ context.Context, repairs []chatTurn) (*Response, error) {
		calls++
		assert.Empty(t, repairs)
		return &Response{Text: "```json\n{\"route\":\"NONE\"}\n```"}, nil
	}

	resp, err := generateStructured(context.Background(), "fake", routeTestSchema, send)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"route":"NONE"}`, string(resp.Data))
}

func TestGenerateStructured_RepairsInvalidReply(t *testing.T) {
	calls := 0
	send := func(_ context.Context, repairs []chatTurn) (*Response, error) {
		calls++
		if calls == 1 {
			return &Response{Text: `{"route":"MAYBE"}`}, nil
		}
		// The repair round must carry the invalid reply and a corrective hint.
		require.Len(t, repairs, 2)
		assert.Equal(t, "assistant", repairs[0].Role)
		assert.Equal(t, `{"route":"MAYBE"}`, repairs[0].Content)
		assert.Equal(t, "user", repairs[1].Role)
		assert.Contains(t, repairs[1].Content, "FAMOUS")
		return &Response{Text: `{"route":"GENERAL"}`}, nil
	}

	resp, err := generateStructured(context.Background(), "fake", routeTestSchema, send)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.JSONEq(t, `{"route":"GENERAL"}`, string(resp.Data))
}

func TestGenerateStructured_GivesUpAfterRepairRounds(t *testing.T) {
	calls := 0
	send := func(_ context.Context, _ []chatTurn) (*Response, error) {
		calls++
		return &Response{Text: `still not valid`}, nil
	}

	_, err := generateStructured(context.Background(), "fake", routeTestSchema, send)
	require.Error(t, err)
	assert.Equal(t, 1+schemaRepairRounds, calls)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "fake", perr.Provider)
	assert.Equal(t, "still not valid", perr.Raw)
}

func TestGenerateStructured_ProviderErrorPassesThrough(t *testing.T) {
	send := func(_ context.Context, _ []chatTurn) (*Response, error) {
		return nil, &BlockedError{Provider: "fake", Reason: "safety"}
	}

	_, err := generateStructured(context.Background(), "fake", routeTestSchema, send)
	require.Error(t, err)
	assert.True(t, IsBlocked(err))
}
