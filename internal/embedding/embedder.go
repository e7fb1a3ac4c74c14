// Package embedding wraps the OpenAI embedding service behind a batched,
// retrying adapter.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// ErrExhausted marks an embedding request whose retries ran out. Callers
// treat this as a per-document failure, not a fatal condition.
var ErrExhausted = errors.New("embedding service retries exhausted")

// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
const DefaultBatchSize = 500

// Embedder generates embeddings for text using the configured OpenAI model.
// It batches requests for efficiency and retries transient failures with
// exponential backoff.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
}

// NewEmbedder creates an Embedder for the given model and vector
// dimension. If batchSize is 0, DefaultBatchSize is used. The dimension
// is fixed once chosen; changing it requires re-ingesting everything
// since stored vectors become incomparable.
func NewEmbedder(client *Client, model string, dimension, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
}

// Dimension returns the configured vector dimensionality.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed generates one vector per input text, order-preserving.
// Requests are batched; rate-limit and server errors are retried with
// exponential backoff, and exhaustion surfaces as ErrExhausted.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vectors, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}

	if len(all) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(all), len(texts))
	}
	return all, nil
}

// embedBatchWithRetry generates embeddings for a single batch.
// Rate limits (429) and server errors (5xx) are retried; anything else
// is permanent and fails immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: e.model,
		})
		if err != nil {
			if isTransient(err) {
				return err // retried with backoff
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
		}

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			if len(data.Embedding) != e.dimension {
				return backoff.Permanent(fmt.Errorf("embedding has %d dimensions, expected %d",
					len(data.Embedding), e.dimension))
			}
			vectors[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		return nil, err
	}
	return vectors, nil
}

// isTransient reports whether the error is worth retrying:
// rate limits (429) and server-side failures (5xx).
func isTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
