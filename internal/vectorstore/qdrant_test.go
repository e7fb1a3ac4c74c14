//go:build integration
// +build integration

package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

// setupTestStore connects to a local Qdrant and creates a throwaway
// collection. Skips the test if Qdrant is not running.
func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	store, err := New("localhost", 6334, testDimension)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	collection := CollectionName("test-" + uuid.New().String())
	require.NoError(t, store.EnsureCollection(context.Background(), collection))

	t.Cleanup(func() {
		_ = store.DropCollection(context.Background(), collection)
		store.Close()
	})
	return store, collection
}

func testVector(fill float32) []float32 {
	v := make([]float32, testDimension)
	for i := range v {
		v[i] = fill
	}
	return v
}

func testChunk(path string, ordinal int, fill float32) *Chunk {
	return &Chunk{
		ID:         ChunkPointID(path, ordinal),
		SourcePath: path,
		Ordinal:    ordinal,
		Content:    "chunk content",
		Section:    "Overview",
		FileType:   "txt",
		Extra:      map[string]string{"lang": "en"},
		Embedding:  testVector(fill),
	}
}

func TestUpsertSearchRoundTrip(t *testing.T) {
	store, collection := setupTestStore(t)
	ctx := context.Background()

	chunk := testChunk("docs/proposal.txt", 0, 0.1)
	require.NoError(t, store.UpsertChunks(ctx, collection, []*Chunk{chunk}))

	results, err := store.Search(ctx, collection, testVector(0.1), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, chunk.SourcePath, got.Chunk.SourcePath)
	assert.Equal(t, chunk.Ordinal, got.Chunk.Ordinal)
	assert.Equal(t, chunk.Content, got.Chunk.Content)
	assert.Equal(t, chunk.Section, got.Chunk.Section)
	assert.Equal(t, chunk.FileType, got.Chunk.FileType)
	assert.Equal(t, "en", got.Chunk.Extra["lang"])
	assert.Greater(t, got.Score, 0.0)
}

func TestUpsertOverwritesSamePoint(t *testing.T) {
	store, collection := setupTestStore(t)
	ctx := context.Background()

	first := testChunk("docs/proposal.txt", 0, 0.1)
	require.NoError(t, store.UpsertChunks(ctx, collection, []*Chunk{first}))

	second := testChunk("docs/proposal.txt", 0, 0.1)
	second.Content = "revised content"
	require.NoError(t, store.UpsertChunks(ctx, collection, []*Chunk{second}))

	count, err := store.CountChunks(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "same (path, ordinal) must overwrite, not duplicate")

	results, err := store.Search(ctx, collection, testVector(0.1), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "revised content", results[0].Chunk.Content)
}

func TestDeleteByDocument(t *testing.T) {
	store, collection := setupTestStore(t)
	ctx := context.Background()

	chunks := []*Chunk{
		testChunk("docs/a.txt", 0, 0.1),
		testChunk("docs/a.txt", 1, 0.1),
		testChunk("docs/b.txt", 0, 0.1),
	}
	require.NoError(t, store.UpsertChunks(ctx, collection, chunks))

	require.NoError(t, store.DeleteByDocument(ctx, collection, "docs/a.txt"))
	time.Sleep(100 * time.Millisecond)

	count, err := store.CountChunks(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	results, err := store.Search(ctx, collection, testVector(0.1), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docs/b.txt", results[0].Chunk.SourcePath)
}

func TestDeleteBeyondOrdinal(t *testing.T) {
	store, collection := setupTestStore(t)
	ctx := context.Background()

	var chunks []*Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, testChunk("docs/a.txt", i, 0.1))
	}
	require.NoError(t, store.UpsertChunks(ctx, collection, chunks))

	// Document shrank from 5 chunks to 2.
	require.NoError(t, store.DeleteBeyondOrdinal(ctx, collection, "docs/a.txt", 2))
	time.Sleep(100 * time.Millisecond)

	count, err := store.CountChunks(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestSearchMissingCollection(t *testing.T) {
	store, _ := setupTestStore(t)

	results, err := store.Search(context.Background(), CollectionName("never-ingested-"+uuid.New().String()),
		testVector(0.1), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertDimensionValidation(t *testing.T) {
	store, collection := setupTestStore(t)

	bad := testChunk("docs/a.txt", 0, 0.1)
	bad.Embedding = make([]float32, testDimension+1)

	err := store.UpsertChunks(context.Background(), collection, []*Chunk{bad})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
