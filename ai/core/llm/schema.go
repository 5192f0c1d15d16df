package llm

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaRepairRounds is the number of validation-retry rounds allowed when a
// provider has no native schema mode: the invalid prior reply and a minimal
// enumerated-field hint are appended to the chat before asking again.
const schemaRepairRounds = 2

// Schema is a structured-output contract: a named JSON Schema the provider
// reply must validate against.
type Schema struct {
	Name     string
	Raw      string
	compiled *jsonschema.Schema
	doc      any
}

// MustSchema compiles a JSON Schema and panics on error. Contracts are
// package-level constants, so a bad schema is a programming error.
func MustSchema(name, raw string) *Schema {
	s, err := NewSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// NewSchema compiles a JSON Schema.
func NewSchema(name, raw string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, Raw: raw, compiled: compiled, doc: doc}, nil
}

// ValidateText parses text as JSON and validates it against the schema,
// returning the raw JSON bytes on success.
func (s *Schema) ValidateText(text string) ([]byte, error) {
	data := []byte(strings.TrimSpace(text))
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("schema %s: invalid JSON: %w", s.Name, err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}
	return data, nil
}

// Instruction renders the in-prompt schema contract for providers without a
// native schema mode.
func (s *Schema) Instruction() string {
	return "Respond with a single JSON object that validates against this JSON Schema. " +
		"Output JSON only, no prose, no code fences.\n" + s.Raw
}

// EnumHint lists the enumerated fields of the schema, used as the minimal
// corrective hint during validation-retry rounds.
func (s *Schema) EnumHint() string {
	hints := collectEnumHints("", s.doc)
	if len(hints) == 0 {
		return ""
	}
	sort.Strings(hints)
	return "Allowed values: " + strings.Join(hints, "; ") + "."
}

func collectEnumHints(path string, node any) []string {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	var hints []string
	if enum, ok := m["enum"].([]any); ok && path != "" {
		vals := make([]string, 0, len(enum))
		for _, v := range enum {
			vals = append(vals, fmt.Sprintf("%v", v))
		}
		hints = append(hints, fmt.Sprintf("%s ∈ {%s}", path, strings.Join(vals, ", ")))
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for name, sub := range props {
			child := name
			if path != "" {
				child = path + "." + name
			}
			hints = append(hints, collectEnumHints(child, sub)...)
		}
	}
	if items, ok := m["items"]; ok {
		hints = append(hints, collectEnumHints(path+"[]", items)...)
	}
	return hints
}

// StripFences removes a wrapping markdown code fence, with or without a
// language tag, from a model reply.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 && !strings.ContainsAny(text[:idx], "{[") {
		// First fence line is a language tag such as ```json.
		text = text[idx+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// chatTurn is an extra conversation turn appended during repair rounds.
type chatTurn struct {
	Role    string // "user" or "assistant"
	Content string
}

// sendFunc issues one provider call with the given repair turns appended
// after the primary user turn.
type sendFunc func(ctx context.Context, repairs []chatTurn) (*Response, error)

// generateStructured drives the instruct-parse-repair protocol for providers
// without a native schema mode: parse the reply (fences stripped), validate,
// and on failure append the invalid reply plus an enum hint and try again,
// up to schemaRepairRounds extra rounds.
func generateStructured(ctx context.Context, provider string, s *Schema, send sendFunc) (*Response, error) {
	var repairs []chatTurn
	var lastErr error
	var lastText string
	for attempt := 0; attempt <= schemaRepairRounds; attempt++ {
		resp, err := send(ctx, repairs)
		if err != nil {
			return nil, err
		}
		text := StripFences(resp.Text)
		data, verr := s.ValidateText(text)
		if verr == nil {
			resp.Data = data
			return resp, nil
		}
		lastErr = verr
		lastText = resp.Text
		hint := "The previous reply did not validate against the required schema."
		if eh := s.EnumHint(); eh != "" {
			hint += " " + eh
		}
		hint += " Reply again with JSON only."
		repairs = append(repairs,
			chatTurn{Role: "assistant", Content: resp.Text},
			chatTurn{Role: "user", Content: hint},
		)
	}
	return nil, &ParseError{Provider: provider, Detail: lastErr.Error(), Raw: lastText}
}
