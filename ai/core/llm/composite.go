package llm

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
)

// FallbackRecorder receives which client of a composite produced the reply
// and at which position in the try order.
type FallbackRecorder interface {
	ObserveFallbackWin(provider string, position int)
}

// CompositeClient tries an ordered list of clients in sequence and returns
// the first successful reply the bad-response predicate accepts. With shuffle
// enabled the order is randomly permuted per call, giving equally-strong
// backends equal probability of going first.
type CompositeClient struct {
	clients  []Client
	shuffle  bool
	isBad    func(*Response) bool
	recorder FallbackRecorder
}

// CompositeOption configures a CompositeClient.
type CompositeOption func(*CompositeClient)

// WithShuffle permutes the client order independently on every call.
func WithShuffle() CompositeOption {
	return func(c *CompositeClient) { c.shuffle = true }
}

// WithBadResponse installs a predicate that, when true on an otherwise
// successful reply, advances to the next client as though the call failed.
func WithBadResponse(pred func(*Response) bool) CompositeOption {
	return func(c *CompositeClient) { c.isBad = pred }
}

// WithFallbackRecorder installs win-position telemetry.
func WithFallbackRecorder(rec FallbackRecorder) CompositeOption {
	return func(c *CompositeClient) { c.recorder = rec }
}

// NewCompositeClient builds a composite over the given clients, tried in
// order unless shuffling is enabled.
func NewCompositeClient(clients []Client, opts ...CompositeOption) *CompositeClient {
	c := &CompositeClient{clients: clients}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CompositeClient) Name() string {
	names := make([]string, len(c.clients))
	for i, cl := range c.clients {
		names[i] = cl.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

func (c *CompositeClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	order := c.clients
	if c.shuffle {
		order = make([]Client, len(c.clients))
		copy(order, c.clients)
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var lastErr error
	for pos, client := range order {
		resp, err := client.Generate(ctx, req)
		if err != nil {
			// Blocked is a non-result for this input; the next client may
			// still produce one.
			slog.Warn("composite client failed",
				"provider", client.Name(),
				"position", pos,
				"error", err,
			)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if c.isBad != nil && c.isBad(resp) {
			slog.Debug("composite client returned bad response, falling back",
				"provider", client.Name(),
				"position", pos,
			)
			lastErr = &badResponseError{provider: client.Name()}
			continue
		}
		if c.recorder != nil {
			c.recorder.ObserveFallbackWin(client.Name(), pos)
		}
		return resp, nil
	}

	return nil, &CompositeError{Attempts: len(order), Last: lastErr}
}

// badResponseError marks a structurally valid reply rejected by the caller
// predicate, so CompositeError can report why the chain advanced.
type badResponseError struct {
	provider string
}

func (e *badResponseError) Error() string {
	return e.provider + " returned a response rejected by the bad-response predicate"
}
