// Package ai wraps the external text-completion service. The rest of the
// pipeline treats completions as untrusted text: callers run their own
// structural checks before anything becomes a fix proposal.
package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// DefaultModel is the completion model used when none is configured.
// Override via config or the GUARDIAN_MODEL environment variable.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Completer is the capability the proposer depends on. Stub it in tests;
// the production implementation is Client.
type Completer interface {
	// Complete sends prompt to the completion service and returns the raw
	// response text. Transient failures are retried internally; the
	// returned error is terminal for this call.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client is the Anthropic-backed Completer with retry, circuit breaking,
// and a concurrency cap on in-flight calls.
type Client struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
}

// Config holds completion client configuration
type Config struct {
	APIKey string      // if empty, reads ANTHROPIC_API_KEY
	Model  string      // default: DefaultModel
	Retry  RetryConfig // zero value gets DefaultRetryConfig
}

// NewClient creates the Anthropic-backed completion client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		if env := os.Getenv("GUARDIAN_MODEL"); env != "" {
			model = env
		} else {
			model = DefaultModel
		}
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	c := &Client{
		client: &client,
		model:  model,
		retry:  retry,
	}
	if retry.CircuitBreakerEnabled {
		c.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	return c, nil
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.retryWithBackoff(ctx, "complete", func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		text = ""
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
