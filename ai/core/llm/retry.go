package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds a retrying client by attempt count, wall-clock time, or
// both. At least one bound must be set.
type RetryConfig struct {
	MaxTries     int           // maximum attempts; 0 means bounded by MaxTime only
	MaxTime      time.Duration // wall-clock budget; 0 means bounded by MaxTries only
	InitialDelay time.Duration // default 1s
	MaxDelay     time.Duration // default 30s
	Multiplier   float64       // default 2.0
	Jitter       bool          // full jitter: delay drawn uniformly from [0, backoff]
}

// RetryClient wraps one provider with bounded exponential-backoff retry.
// Blocked errors are never retried; every other error is, up to the bound.
// The call is otherwise transparent.
type RetryClient struct {
	inner Client
	cfg   RetryConfig

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRetryClient wraps a client with retry behavior.
func NewRetryClient(inner Client, cfg RetryConfig) *RetryClient {
	if cfg.MaxTries <= 0 && cfg.MaxTime <= 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	return &RetryClient{
		inner: inner,
		cfg:   cfg,
		sleep: sleepCtx,
		now:   time.Now,
	}
}

func (c *RetryClient) Name() string { return c.inner.Name() }

func (c *RetryClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := c.now()
	var lastErr error

	for attempt := 0; ; attempt++ {
		if c.cfg.MaxTries > 0 && attempt >= c.cfg.MaxTries {
			break
		}
		if c.cfg.MaxTime > 0 && c.now().Sub(start) >= c.cfg.MaxTime {
			break
		}

		if attempt > 0 {
			delay := c.backoff(attempt)
			slog.Debug("retrying provider call",
				"provider", c.inner.Name(),
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if IsBlocked(err) {
			// A policy refusal is deterministic for this input.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("retries exhausted for %s: %w", c.inner.Name(), lastErr)
}

// backoff computes the delay before the given attempt (attempt >= 1).
func (c *RetryClient) backoff(attempt int) time.Duration {
	backoff := float64(c.cfg.InitialDelay) * math.Pow(c.cfg.Multiplier, float64(attempt-1))
	if backoff > float64(c.cfg.MaxDelay) {
		backoff = float64(c.cfg.MaxDelay)
	}
	if c.cfg.Jitter {
		backoff = rand.Float64() * backoff
	}
	return time.Duration(backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
