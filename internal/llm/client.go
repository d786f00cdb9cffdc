// Package llm is the transport layer for an OpenAI-style chat completion
// endpoint.
//
// A Client owns its own concurrency semaphore and requests-per-minute token
// bucket, so independent clients (and tests) never share limiter state. All
// fault handling lives here: callers see either usable text or ErrExhausted,
// never an HTTP error.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/subforge/subtran/internal/postprocess"
)

// ErrExhausted is returned when every retry attempt has failed. Callers treat
// it as "no translation available", not as a fatal condition.
var ErrExhausted = errors.New("llm: retries exhausted")

// Message is a single chat-completion message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Caller is the capability the pipeline stages need from the transport.
type Caller interface {
	Call(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// Options configures a Client.
type Options struct {
	APIURL        string
	APIKey        string
	Model         string
	MaxConcurrent int
	RPMLimit      int
	MaxRetries    int
	RetryDelay    time.Duration
	Logger        zerolog.Logger
}

// Client issues chat-completion requests with a bounded in-flight count and
// a token-bucket RPM limit.
type Client struct {
	opts    Options
	httpc   *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     zerolog.Logger

	// Overridable in tests; production values match the endpoint contract.
	attemptTimeout time.Duration
	backoff429     time.Duration
}

// New creates a Client. MaxConcurrent and RPMLimit must be positive.
func New(opts Options) *Client {
	return &Client{
		opts:  opts,
		httpc: &http.Client{},
		sem:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		// The bucket starts full: a burst of up to RPMLimit requests may pass
		// before the refill rate of RPMLimit/60 per second takes over.
		limiter:        rate.NewLimiter(rate.Limit(float64(opts.RPMLimit)/60.0), opts.RPMLimit),
		log:            opts.Logger,
		attemptTimeout: 120 * time.Second,
		backoff429:     5 * time.Second,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      *struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// Call sends one chat-completion request and returns the cleaned response
// text. A soft refusal or a content-filtered reply returns an empty string
// with a nil error. When every attempt fails, Call returns ErrExhausted.
func (c *Client) Call(ctx context.Context, messages []Message, temperature float64) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   4096,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		text, retryable, err := c.attempt(ctx, body, temperature)
		if err == nil {
			return text, nil
		}
		if !retryable {
			return "", err
		}
		if attempt < c.opts.MaxRetries {
			c.log.Warn().
				Int("attempt", attempt).
				Int("max_retries", c.opts.MaxRetries).
				Err(err).
				Msg("LLM request failed, retrying")
			delay := c.opts.RetryDelay
			if errors.Is(err, errRateLimited) {
				delay = c.backoff429
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		} else {
			c.log.Error().Err(err).Msg("LLM request failed after all retries")
		}
	}
	return "", ErrExhausted
}

// errRateLimited marks a 429 so the retry loop applies the longer back-off.
var errRateLimited = errors.New("rate limited by endpoint")

// attempt performs a single HTTP round trip. retryable reports whether the
// caller should try again on error.
func (c *Client) attempt(ctx context.Context, body []byte, temperature float64) (text string, retryable bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, errRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", true, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", true, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message == nil {
		return "", true, fmt.Errorf("response has no choices")
	}

	choice := decoded.Choices[0]
	if choice.Message.Refusal != "" {
		// A refusal is a model decision, not a transport failure.
		c.log.Warn().Str("refusal", choice.Message.Refusal).Msg("model refused the request")
		return "", false, nil
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" && choice.FinishReason == "content_filter" {
		c.log.Warn().Msg("response emptied by content filter")
		return "", false, nil
	}

	return postprocess.Clean(content), false, nil
}
