// Package generate wraps the chat-completion service used to turn
// retrieved context into answers.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// ErrExhausted marks a generation request whose retries ran out.
var ErrExhausted = errors.New("generation service retries exhausted")

// DefaultMaxPromptChars bounds prompt size before truncation.
// Rough estimate: 1 token ~ 4 characters, so this is about 24k tokens.
const DefaultMaxPromptChars = 96000

// Client generates text completions with the configured chat model.
type Client struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewClient creates a generation client. Answers are sampled at low
// temperature so repeated queries over the same context stay close.
func NewClient(client *openai.Client, model string) *Client {
	return &Client{
		client:      client,
		model:       model,
		temperature: 0.3,
	}
}

// Model returns the configured chat model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate produces a completion for the system and user prompts.
// Rate limits and server errors are retried with exponential backoff;
// exhaustion surfaces as ErrExhausted.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	user = truncatePrompt(user, DefaultMaxPromptChars)

	var answer string
	operation := func() error {
		resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Model:       c.model,
			Temperature: openai.Float(c.temperature),
		})
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("completion returned no choices"))
		}
		answer = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if isTransient(err) {
			return "", fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return answer, nil
}

// truncatePrompt caps s at max bytes without splitting a UTF-8 sequence:
// the cut backs off to the nearest rune start.
func truncatePrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
