package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/grantkb/internal/chunker"
	"github.com/fieldworks/grantkb/internal/extract"
	"github.com/fieldworks/grantkb/internal/fingerprint"
	"github.com/fieldworks/grantkb/internal/vectorstore"
)

// fakeEmbedder returns fixed-size vectors and counts calls.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts += len(texts)
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

// memStore is an in-memory VectorStore keyed like Qdrant: point ID.
type memStore struct {
	mu          sync.Mutex
	collections map[string]map[string]*vectorstore.Chunk
}

func newMemStore() *memStore {
	return &memStore{collections: make(map[string]map[string]*vectorstore.Chunk)}
}

func (m *memStore) EnsureCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]*vectorstore.Chunk)
	}
	return nil
}

func (m *memStore) UpsertChunks(_ context.Context, collection string, chunks []*vectorstore.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.collections[collection][c.ID] = c
	}
	return nil
}

func (m *memStore) DeleteByDocument(_ context.Context, collection, sourcePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.collections[collection] {
		if c.SourcePath == sourcePath {
			delete(m.collections[collection], id)
		}
	}
	return nil
}

func (m *memStore) DeleteBeyondOrdinal(_ context.Context, collection, sourcePath string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.collections[collection] {
		if c.SourcePath == sourcePath && c.Ordinal >= n {
			delete(m.collections[collection], id)
		}
	}
	return nil
}

func (m *memStore) DropCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *memStore) chunksFor(collection, sourcePath string) []*vectorstore.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*vectorstore.Chunk
	for _, c := range m.collections[collection] {
		if c.SourcePath == sourcePath {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) size(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

// fakeCache records invalidations.
type fakeCache struct {
	mu           sync.Mutex
	invalidated []string
}

func (f *fakeCache) InvalidateProject(_ context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, project)
	return nil
}

func (f *fakeCache) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invalidated)
}

// failingExtractor fails for one path, delegates the rest.
type failingExtractor struct {
	inner    Extractor
	failPath string
}

func (f *failingExtractor) Extract(ctx context.Context, path string) (string, error) {
	if strings.HasSuffix(path, f.failPath) {
		return "", errors.New("corrupt file")
	}
	return f.inner.Extract(ctx, path)
}

type fixture struct {
	pipeline *Pipeline
	embedder *fakeEmbedder
	store    *memStore
	cache    *fakeCache
	prints   *fingerprint.Store
	dir      string
}

func newFixture(t *testing.T, extractor Extractor) *fixture {
	t.Helper()

	prints, err := fingerprint.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { prints.Close() })

	ch, err := chunker.New(1000, 200)
	require.NoError(t, err)

	if extractor == nil {
		extractor = extract.DefaultRegistry()
	}

	f := &fixture{
		embedder: &fakeEmbedder{},
		store:    newMemStore(),
		cache:    &fakeCache{},
		prints:   prints,
		dir:      t.TempDir(),
	}
	f.pipeline = NewPipeline(
		fingerprint.NewTracker([]string{".txt", ".md"}),
		extractor,
		ch,
		f.embedder,
		f.store,
		prints,
		f.cache,
		nil,
		2,
	)
	return f
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRunInitialIngestion(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")

	result, err := f.pipeline.Run(context.Background(), "alpha", f.dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocumentsAdded)
	assert.Equal(t, 0, result.DocumentsUpdated)
	assert.Equal(t, 1, result.ChunksWritten)
	assert.Empty(t, result.Failed)

	collection := vectorstore.CollectionName("alpha")
	chunks := f.store.chunksFor(collection, "proposal.txt")
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Budget: $50,000 for education.")
	assert.Equal(t, "txt", chunks[0].FileType)
	assert.Equal(t, vectorstore.ChunkPointID("proposal.txt", 0), chunks[0].ID)

	assert.Equal(t, 1, f.cache.count(), "ingestion of new content invalidates the cache")
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)
	embedCallsAfterFirst := f.embedder.calls
	sizeAfterFirst := f.store.size(vectorstore.CollectionName("alpha"))

	result, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)

	assert.Equal(t, 0, result.DocumentsAdded+result.DocumentsUpdated+result.DocumentsRemoved)
	assert.Equal(t, embedCallsAfterFirst, f.embedder.calls, "unchanged documents make zero embedding calls")
	assert.Equal(t, sizeAfterFirst, f.store.size(vectorstore.CollectionName("alpha")))
	assert.Equal(t, 1, f.cache.count(), "no-op run must not invalidate the cache")
}

func TestRunDetectsModification(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")
	f.write(t, "annex.txt", "Annex A content.")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)
	textsAfterFirst := f.embedder.texts

	// One byte changes in one file.
	f.write(t, "proposal.txt", "Budget: $50,001 for education.")

	result, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocumentsUpdated)
	assert.Equal(t, 0, result.DocumentsAdded)
	// Only the modified file is re-embedded.
	assert.Equal(t, textsAfterFirst+1, f.embedder.texts)

	chunks := f.store.chunksFor(vectorstore.CollectionName("alpha"), "proposal.txt")
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "$50,001")
	assert.Equal(t, 2, f.cache.count())
}

func TestRunRemovesDeletedDocuments(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")
	f.write(t, "annex.txt", "Annex A content.")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "annex.txt")))

	result, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocumentsRemoved)
	collection := vectorstore.CollectionName("alpha")
	assert.Empty(t, f.store.chunksFor(collection, "annex.txt"))
	assert.Len(t, f.store.chunksFor(collection, "proposal.txt"), 1)

	records, err := f.prints.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.NotContains(t, records, "annex.txt")
	assert.Contains(t, records, "proposal.txt")
}

func TestRunGrowingDocumentAddsChunks(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ChunksWritten)

	// Grow the document well past one chunk window.
	f.write(t, "proposal.txt", strings.Repeat("The program funds scholarships for rural students. ", 60))

	second, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)
	assert.Greater(t, second.ChunksWritten, 1)

	chunks := f.store.chunksFor(vectorstore.CollectionName("alpha"), "proposal.txt")
	assert.Equal(t, second.ChunksWritten, len(chunks))
}

func TestRunShrinkingDocumentTrimsChunks(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", strings.Repeat("The program funds scholarships for rural students. ", 60))
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)
	require.Greater(t, first.ChunksWritten, 1)

	f.write(t, "proposal.txt", "Short version.")

	_, err = f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)

	chunks := f.store.chunksFor(vectorstore.CollectionName("alpha"), "proposal.txt")
	assert.Len(t, chunks, 1, "ordinals beyond the new chunk count are deleted")
}

func TestRunIsolatesPerDocumentFailures(t *testing.T) {
	extractor := &failingExtractor{
		inner:    extract.DefaultRegistry(),
		failPath: "broken.txt",
	}
	f := newFixture(t, extractor)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")
	f.write(t, "broken.txt", "unreadable")

	result, err := f.pipeline.Run(context.Background(), "alpha", f.dir)
	require.NoError(t, err, "one bad document must not abort the run")

	assert.Equal(t, 1, result.DocumentsAdded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "broken.txt", result.Failed[0].Path)
	assert.Contains(t, result.Failed[0].Reason, "corrupt file")

	// The failed document has no fingerprint, so the next run retries it.
	records, err := f.prints.Load(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotContains(t, records, "broken.txt")
	assert.Contains(t, records, "proposal.txt")
}

func TestRemoveProject(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "proposal.txt", "Budget: $50,000 for education.")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, "alpha", f.dir)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.RemoveProject(ctx, "alpha"))

	assert.Equal(t, 0, f.store.size(vectorstore.CollectionName("alpha")))
	records, err := f.prints.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 2, f.cache.count())
}
