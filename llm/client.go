// Client - wraps a Provider with transport retry.
//
// Information Hiding:
// - Retry policy (attempts, backoff, jitter)
// - Transient vs permanent error classification

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig controls transport retry behavior.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // backoff cap
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Client wraps a Provider, retrying transient transport failures with
// exponential backoff and jitter. Permanent failures (auth, invalid request,
// context cancellation) are returned immediately.
type Client struct {
	provider Provider
	retry    RetryConfig
	logger   *slog.Logger
}

// NewClient creates a client with default retry behavior.
func NewClient(provider Provider) *Client {
	return &Client{
		provider: provider,
		retry:    DefaultRetryConfig(),
		logger:   slog.Default(),
	}
}

// WithRetry overrides the retry configuration.
func (c *Client) WithRetry(cfg RetryConfig) *Client {
	c.retry = cfg
	return c
}

// WithLogger overrides the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Chat sends a plain chat completion request with retry.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (Response, error) {
	var out Response
	err := c.withRetry(ctx, "chat", func() error {
		var err error
		out, err = c.provider.Chat(ctx, messages)
		return err
	})
	return out, err
}

// ChatWithTools sends a chat completion request with tool definitions, with retry.
func (c *Client) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (Response, error) {
	var out Response
	err := c.withRetry(ctx, "chat_with_tools", func() error {
		var err error
		out, err = c.provider.ChatWithTools(ctx, messages, tools)
		return err
	})
	return out, err
}

// StreamChatWithTools streams a chat completion. A failed attempt is retried
// only while no content has reached the caller; once a fragment has been
// forwarded the stream cannot be replayed and the error is returned as-is.
func (c *Client) StreamChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (Response, error) {
	var out Response
	var sent bool

	err := c.withRetry(ctx, "stream_chat_with_tools", func() error {
		if sent {
			return &permanentError{errors.New("stream already delivered content")}
		}

		// Observe the provider's sends through an intermediate channel so a
		// partially consumed stream is never retried.
		inner := make(chan string)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for chunk := range inner {
				sent = true
				chunks <- chunk
			}
		}()

		resp, err := c.provider.StreamChatWithTools(ctx, messages, tools, inner)
		close(inner)
		<-done

		if err != nil {
			if sent {
				return &permanentError{err}
			}
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("provider request failed, retrying",
			"op", op,
			"provider", c.provider.Name(),
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, c.retry.MaxAttempts, lastErr)
}

// backoff computes exponential backoff with jitter for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retry.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.retry.MaxDelay {
			delay = c.retry.MaxDelay
			break
		}
	}
	// Up to 25% jitter to avoid thundering herd
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// permanentError marks an error that must never be retried regardless of its
// transport classification.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// isTransient classifies whether an error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Permanent failures
	permanent := []string{
		"unauthorized",
		"invalid api key",
		"authentication",
		"permission denied",
		"invalid request",
		"context length",
		"not found",
	}
	for _, p := range permanent {
		if strings.Contains(errStr, p) {
			return false
		}
	}

	transient := []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"temporary",
		"unavailable",
		"rate limit",
		"too many requests",
		"overloaded",
		"429",
		"500",
		"502",
		"503",
		"504",
		"eof",
	}
	for _, t := range transient {
		if strings.Contains(errStr, t) {
			return true
		}
	}

	return false
}
