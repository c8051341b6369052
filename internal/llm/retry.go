package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds model calls made through a RetryClient.
type RetryConfig struct {
	// CallTimeout caps each individual attempt. Zero means no per-call cap.
	CallTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the first backoff interval; it doubles per retry.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration
}

// RetryClient wraps a Client with per-call timeouts and exponential
// backoff on transient failures. Once attempts are exhausted it returns an
// error matching ErrModelUnavailable.
type RetryClient struct {
	inner  Client
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetryClient wraps inner.
func NewRetryClient(inner Client, cfg RetryConfig, logger *slog.Logger) *RetryClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &RetryClient{inner: inner, cfg: cfg, logger: logger}
}

// Chat calls the wrapped client with retries.
func (c *RetryClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	return c.do(ctx, model, func(ctx context.Context) (*ChatResponse, error) {
		return c.inner.Chat(ctx, model, messages, tools)
	}, nil)
}

// ChatStream calls the wrapped client with retries. An attempt that has
// already delivered tokens to callback is not retried, so the caller never
// sees duplicated text.
func (c *RetryClient) ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, model, messages, tools)
	}
	var emitted bool
	wrapped := func(ev StreamEvent) {
		if ev.Kind == KindToken {
			emitted = true
		}
		callback(ev)
	}
	return c.do(ctx, model, func(ctx context.Context) (*ChatResponse, error) {
		return c.inner.ChatStream(ctx, model, messages, tools, wrapped)
	}, func() bool { return emitted })
}

// Ping delegates without retries.
func (c *RetryClient) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

func (c *RetryClient) do(ctx context.Context, model string, call func(context.Context) (*ChatResponse, error), committed func() bool) (*ChatResponse, error) {
	backoff := retry.NewExponential(c.cfg.BaseDelay)
	backoff = retry.WithCappedDuration(c.cfg.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.MaxRetries), backoff)

	var (
		resp     *ChatResponse
		attempts int
		lastErr  error
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		r, err := call(callCtx)
		if err == nil {
			resp = r
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) || (committed != nil && committed()) {
			return err
		}
		c.logger.Warn("model call failed, retrying",
			"model", model,
			"attempt", attempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if lastErr == nil {
		lastErr = err
	}
	c.logger.Error("model unavailable",
		"model", model,
		"attempts", attempts,
		"error", lastErr,
	)
	return nil, &UnavailableError{Attempts: attempts, Err: lastErr}
}

func (c *RetryClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}
