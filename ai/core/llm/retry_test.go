package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestRetryClient_SucceedsAfterTransientErrors(t *testing.T) {
	inner := newFakeClient("flaky",
		errReply(errors.New("upstream 500")),
		errReply(errors.New("upstream 500")),
		textReply("ok"),
	)
	c := NewRetryClient(inner, RetryConfig{MaxTries: 3})
	c.sleep = noSleep

	resp, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, inner.callCount())
}

func TestRetryClient_ExhaustsTries(t *testing.T) {
	boom := errors.New("boom")
	inner := newFakeClient("flaky", errReply(boom))
	c := NewRetryClient(inner, RetryConfig{MaxTries: 4})
	c.sleep = noSleep

	_, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, inner.callCount())
}

func TestRetryClient_NeverRetriesBlocked(t *testing.T) {
	inner := newFakeClient("strict",
		errReply(&BlockedError{Provider: "strict", Reason: "policy"}),
		textReply("should never be reached"),
	)
	c := NewRetryClient(inner, RetryConfig{MaxTries: 5})
	c.sleep = noSleep

	_, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsBlocked(err))
	assert.Equal(t, 1, inner.callCount(), "blocked must not be retried")
}

func TestRetryClient_MaxTimeBoundsWallClock(t *testing.T) {
	inner := newFakeClient("flaky", errReply(errors.New("down")))
	c := NewRetryClient(inner, RetryConfig{MaxTime: 10 * time.Second, InitialDelay: 4 * time.Second})

	// Simulated clock: each sleep advances time, no real waiting.
	clock := time.Unix(0, 0)
	c.now = func() time.Time { return clock }
	c.sleep = func(_ context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}

	_, err := c.Generate(context.Background(), &Request{Message: "hi"})
	require.Error(t, err)
	// Attempts at t=0, t=4s, t=8s(+backoff cap); the attempt that would start
	// past the 10s budget is not made.
	assert.LessOrEqual(t, inner.callCount(), 3)
	assert.GreaterOrEqual(t, inner.callCount(), 2)
}

func TestRetryClient_ContextCancelStopsRetries(t *testing.T) {
	inner := newFakeClient("flaky", errReply(errors.New("down")))
	c := NewRetryClient(inner, RetryConfig{MaxTries: 10, InitialDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, &Request{Message: "hi"})
	require.Error(t, err)
	assert.LessOrEqual(t, inner.callCount(), 1)
}

func TestRetryClient_BackoffGrowsAndCaps(t *testing.T) {
	c := NewRetryClient(newFakeClient("x", textReply("ok")), RetryConfig{
		MaxTries:     10,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2,
	})

	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 4*time.Second, c.backoff(3))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, 8*time.Second, c.backoff(5), "capped at MaxDelay")
}

func TestRetryClient_FullJitterStaysWithinEnvelope(t *testing.T) {
	c := NewRetryClient(newFakeClient("x", textReply("ok")), RetryConfig{
		MaxTries:     3,
		InitialDelay: time.Second,
		Multiplier:   2,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		d := c.backoff(2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}
