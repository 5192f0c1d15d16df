package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type winRecorder struct {
	wins map[string]int
	pos  []int
}

func (r *winRecorder) ObserveFallbackWin(provider string, position int) {
	if r.wins == nil {
		r.wins = map[string]int{}
	}
	r.wins[provider]++
	r.pos = append(r.pos, position)
}

func TestComposite_FirstSuccessWins(t *testing.T) {
	a := newFakeClient("a", textReply("from a"))
	b := newFakeClient("b", textReply("from b"))
	c := NewCompositeClient([]Client{a, b})

	resp, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from a", resp.Text)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 0, b.callCount())
}

func TestComposite_FallsBackOnError(t *testing.T) {
	a := newFakeClient("a", errReply(errors.New("down")))
	b := newFakeClient("b", textReply("from b"))
	rec := &winRecorder{}
	c := NewCompositeClient([]Client{a, b}, WithFallbackRecorder(rec))

	resp, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Text)
	assert.Equal(t, []int{1}, rec.pos, "winner position recorded")
}

func TestComposite_FallsBackOnBlocked(t *testing.T) {
	a := newFakeClient("a", errReply(&BlockedError{Provider: "a", Reason: "policy"}))
	b := newFakeClient("b", textReply("from b"))
	c := NewCompositeClient([]Client{a, b})

	resp, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Text)
}

func TestComposite_BadResponsePredicateTriggersFallback(t *testing.T) {
	a := newFakeClient("a", textReply("NOTSURE"))
	b := newFakeClient("b", textReply("GENERAL"))
	c := NewCompositeClient([]Client{a, b},
		WithBadResponse(func(r *Response) bool { return r.Text == "NOTSURE" }),
	)

	resp, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "GENERAL", resp.Text)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestComposite_AllFailWrapsLastError(t *testing.T) {
	last := errors.New("last failure")
	a := newFakeClient("a", errReply(errors.New("first failure")))
	b := newFakeClient("b", errReply(last))
	c := NewCompositeClient([]Client{a, b})

	_, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.Error(t, err)

	var comp *CompositeError
	require.ErrorAs(t, err, &comp)
	assert.Equal(t, 2, comp.Attempts)
	assert.ErrorIs(t, err, last)
}

func TestComposite_ShuffleGivesEachClientFirstTry(t *testing.T) {
	const trials = 10000
	const n = 3

	firsts := map[string]int{}
	for i := 0; i < trials; i++ {
		a := newFakeClient("a", textReply("a"))
		b := newFakeClient("b", textReply("b"))
		cc := newFakeClient("c", textReply("c"))
		c := NewCompositeClient([]Client{a, b, cc}, WithShuffle())

		resp, err := c.Generate(context.Background(), &Request{Message: "hi"})
		require.NoError(t, err)
		firsts[resp.Text]++
	}

	// Each member should win roughly 1/3 of the time; allow generous slack.
	for name, count := range firsts {
		ratio := float64(count) / float64(trials)
		assert.InDelta(t, 1.0/n, ratio, 0.05, "client %s first-win ratio %f", name, ratio)
	}
	assert.Len(t, firsts, n, "every client must be tried first at least once")
}

func TestComposite_ShuffleDoesNotMutateConfiguredOrder(t *testing.T) {
	a := newFakeClient("a", errReply(errors.New("down")))
	b := newFakeClient("b", errReply(errors.New("down")))
	c := NewCompositeClient([]Client{a, b}, WithShuffle())

	for i := 0; i < 50; i++ {
		_, _ = c.Generate(context.Background(), &Request{Message: "hi"})
	}
	assert.Equal(t, "composite(a,b)", c.Name())
}
