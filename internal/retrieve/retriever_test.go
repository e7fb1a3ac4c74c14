package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/grantkb/internal/vectorstore"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

type stubSearcher struct {
	results []*vectorstore.ScoredChunk
	err     error
}

func (s stubSearcher) Search(context.Context, string, []float32, int) ([]*vectorstore.ScoredChunk, error) {
	return s.results, s.err
}

func scored(path string, ordinal int, content string, score float64) *vectorstore.ScoredChunk {
	return &vectorstore.ScoredChunk{
		Chunk: &vectorstore.Chunk{
			ID:         vectorstore.ChunkPointID(path, ordinal),
			SourcePath: path,
			Ordinal:    ordinal,
			Content:    content,
		},
		Score: score,
	}
}

func TestRetrieveOrdersByScoreDescending(t *testing.T) {
	searcher := stubSearcher{results: []*vectorstore.ScoredChunk{
		scored("a.txt", 0, "low", 0.2),
		scored("b.txt", 1, "high", 0.9),
		scored("c.txt", 2, "mid", 0.5),
	}}

	r := New(stubEmbedder{}, searcher, nil)
	results, err := r.Retrieve(context.Background(), "alpha", "budget", 3)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "high", results[0].Content)
	assert.Equal(t, "mid", results[1].Content)
	assert.Equal(t, "low", results[2].Content)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetrieveBreaksTiesByPathThenOrdinal(t *testing.T) {
	searcher := stubSearcher{results: []*vectorstore.ScoredChunk{
		scored("b.txt", 0, "b0", 0.5),
		scored("a.txt", 2, "a2", 0.5),
		scored("a.txt", 1, "a1", 0.5),
	}}

	r := New(stubEmbedder{}, searcher, nil)
	results, err := r.Retrieve(context.Background(), "alpha", "budget", 3)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "a1", results[0].Content)
	assert.Equal(t, "a2", results[1].Content)
	assert.Equal(t, "b0", results[2].Content)
}

func TestRetrieveEmptyCollection(t *testing.T) {
	r := New(stubEmbedder{}, stubSearcher{}, nil)

	results, err := r.Retrieve(context.Background(), "alpha", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveSearchErrorPropagates(t *testing.T) {
	r := New(stubEmbedder{}, stubSearcher{err: assert.AnError}, nil)

	_, err := r.Retrieve(context.Background(), "alpha", "anything", 5)
	assert.ErrorIs(t, err, assert.AnError)
}
