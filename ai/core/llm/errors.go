package llm

import (
	"errors"
	"fmt"
)

// BlockedError is a content-policy refusal. It is never retried and is
// surfaced distinctly so that retry, fallback, and memory rebuilds can treat
// it as a non-result rather than a transient failure.
type BlockedError struct {
	Provider string
	Reason   string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s blocked the request: %s", e.Provider, e.Reason)
}

// IsBlocked reports whether err is (or wraps) a content-policy refusal.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// UnsupportedError marks a request option the provider cannot honor, e.g.
// grounding on a model without search or an image on a text-only model.
type UnsupportedError struct {
	Provider string
	Feature  string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Feature)
}

// ParseError reports structured output that failed schema validation after
// the permitted repair rounds.
type ParseError struct {
	Provider string
	Detail   string
	Raw      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s returned unparseable structured output: %s", e.Provider, e.Detail)
}

// CompositeError wraps the last underlying error after every client in a
// composite chain failed or was rejected by the bad-response predicate.
type CompositeError struct {
	Attempts int
	Last     error
}

func (e *CompositeError) Error() string {
	return fmt.Sprintf("all %d clients failed, last error: %v", e.Attempts, e.Last)
}

func (e *CompositeError) Unwrap() error { return e.Last }
