// Package ingest orchestrates change-aware ingestion: fingerprint diff,
// extraction, chunking, embedding, and vector-store upserts, committing
// fingerprints only after chunks are durably written.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldworks/grantkb/internal/chunker"
	"github.com/fieldworks/grantkb/internal/fingerprint"
	"github.com/fieldworks/grantkb/internal/vectorstore"
)

// Extractor turns a source file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Embedder generates one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the subset of the vector database the pipeline writes.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string) error
	UpsertChunks(ctx context.Context, collection string, chunks []*vectorstore.Chunk) error
	DeleteByDocument(ctx context.Context, collection, sourcePath string) error
	DeleteBeyondOrdinal(ctx context.Context, collection, sourcePath string, n int) error
	DropCollection(ctx context.Context, collection string) error
}

// FingerprintStore persists per-project document fingerprints.
type FingerprintStore interface {
	Load(ctx context.Context, project string) (map[string]fingerprint.Record, error)
	Put(ctx context.Context, project string, rec fingerprint.Record) error
	Delete(ctx context.Context, project, path string) error
	DeleteProject(ctx context.Context, project string) error
}

// CacheInvalidator drops cached responses when a knowledge base changes.
type CacheInvalidator interface {
	InvalidateProject(ctx context.Context, project string) error
}

// Result contains statistics about one ingestion run.
type Result struct {
	DocumentsAdded   int
	DocumentsUpdated int
	DocumentsRemoved int
	ChunksWritten    int
	Failed           []FailedDoc
	Duration         time.Duration
}

// FailedDoc represents a document that could not be ingested.
type FailedDoc struct {
	Path   string
	Reason string
}

// Pipeline keeps a project's knowledge base consistent with its source
// files.
type Pipeline struct {
	tracker      *fingerprint.Tracker
	extractor    Extractor
	chunker      *chunker.Chunker
	embedder     Embedder
	store        VectorStore
	fingerprints FingerprintStore
	cache        CacheInvalidator
	logger       *slog.Logger
	workers      int
}

// NewPipeline creates an ingestion pipeline. workers bounds how many
// documents are embedded concurrently.
func NewPipeline(
	tracker *fingerprint.Tracker,
	extractor Extractor,
	chunker *chunker.Chunker,
	embedder Embedder,
	store VectorStore,
	fingerprints FingerprintStore,
	cache CacheInvalidator,
	logger *slog.Logger,
	workers int,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		tracker:      tracker,
		extractor:    extractor,
		chunker:      chunker,
		embedder:     embedder,
		store:        store,
		fingerprints: fingerprints,
		cache:        cache,
		logger:       logger,
		workers:      workers,
	}
}

// Run ingests the project whose documents live under dir. Unchanged
// documents are skipped entirely - no extraction, no embedding calls.
// Per-document failures are recorded and do not abort the run; their
// fingerprints stay uncommitted so the next run retries them.
func (p *Pipeline) Run(ctx context.Context, project, dir string) (*Result, error) {
	start := time.Now()
	result := &Result{}
	collection := vectorstore.CollectionName(project)

	if err := p.store.EnsureCollection(ctx, collection); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	stored, err := p.fingerprints.Load(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}

	diff, err := p.tracker.Diff(ctx, dir, stored)
	if err != nil {
		return nil, fmt.Errorf("diff documents: %w", err)
	}
	p.logger.Info("Starting ingestion",
		"project", project,
		"added", len(diff.Added),
		"modified", len(diff.Modified),
		"removed", len(diff.Removed),
	)

	// Cached answers go stale the moment the knowledge base changes, so
	// invalidation must come before the first write. Failing here aborts
	// the run with nothing committed: the next run sees the same diff and
	// retries. Invalidating after the writes would leave a window where a
	// crash or cache failure strands stale answers behind committed
	// fingerprints, with no later run ever clearing them.
	if !diff.Empty() {
		if err := p.cache.InvalidateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("invalidate cache: %w", err)
		}
	}

	for _, path := range diff.Removed {
		if err := p.store.DeleteByDocument(ctx, collection, path); err != nil {
			p.logger.Warn("Failed to delete chunks for removed document", "path", path, "error", err)
			result.Failed = append(result.Failed, FailedDoc{Path: path, Reason: err.Error()})
			continue
		}
		if err := p.fingerprints.Delete(ctx, project, path); err != nil {
			return nil, fmt.Errorf("drop fingerprint for %s: %w", path, err)
		}
		result.DocumentsRemoved++
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	process := func(sig fingerprint.Signature, isNew bool) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err // cancelled; committed work stays valid
			}

			written, err := p.processDocument(gctx, project, collection, dir, sig)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("Failed to ingest document", "path", sig.Path, "error", err)
				result.Failed = append(result.Failed, FailedDoc{Path: sig.Path, Reason: err.Error()})
				return nil // isolated, keep processing other documents
			}
			if isNew {
				result.DocumentsAdded++
			} else {
				result.DocumentsUpdated++
			}
			result.ChunksWritten += written
			return nil
		})
	}

	for _, sig := range diff.Added {
		process(sig, true)
	}
	for _, sig := range diff.Modified {
		process(sig, false)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"project", project,
		"added", result.DocumentsAdded,
		"updated", result.DocumentsUpdated,
		"removed", result.DocumentsRemoved,
		"chunks", result.ChunksWritten,
		"failed", len(result.Failed),
		"duration", result.Duration,
	)
	return result, nil
}

// processDocument handles one added or modified document: extract,
// chunk, embed, upsert, trim stale ordinals, then commit the
// fingerprint.
func (p *Pipeline) processDocument(ctx context.Context, project, collection, dir string, sig fingerprint.Signature) (int, error) {
	absPath := filepath.Join(dir, filepath.FromSlash(sig.Path))

	text, err := p.extractor.Extract(ctx, absPath)
	if err != nil {
		return 0, err
	}

	pieces := p.chunker.Split(text)
	if len(pieces) == 0 {
		// Nothing embeddable; clear any chunks from a previous version
		// and remember the document so it is not re-extracted next run.
		if err := p.store.DeleteByDocument(ctx, collection, sig.Path); err != nil {
			return 0, err
		}
		return 0, p.commitFingerprint(ctx, project, sig, 0)
	}

	vectors, err := p.embedder.Embed(ctx, pieces)
	if err != nil {
		return 0, err
	}

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(sig.Path)), ".")
	chunks := make([]*vectorstore.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &vectorstore.Chunk{
			ID:         vectorstore.ChunkPointID(sig.Path, i),
			SourcePath: sig.Path,
			Ordinal:    i,
			Content:    piece,
			FileType:   fileType,
			Embedding:  vectors[i],
		}
	}

	if err := p.store.UpsertChunks(ctx, collection, chunks); err != nil {
		return 0, err
	}

	// A shrunk document leaves stale points beyond the new chunk count.
	if err := p.store.DeleteBeyondOrdinal(ctx, collection, sig.Path, len(chunks)); err != nil {
		return len(chunks), err
	}

	// Fingerprint commits last: a crash before this point leaves the old
	// record in place and the document is safely re-ingested next run
	// (upserts under stable IDs are idempotent).
	if err := p.commitFingerprint(ctx, project, sig, len(chunks)); err != nil {
		return len(chunks), err
	}

	p.logger.Debug("Ingested document", "project", project, "path", sig.Path, "chunks", len(chunks))
	return len(chunks), nil
}

func (p *Pipeline) commitFingerprint(ctx context.Context, project string, sig fingerprint.Signature, chunkCount int) error {
	return p.fingerprints.Put(ctx, project, fingerprint.Record{
		Path:       sig.Path,
		Size:       sig.Size,
		Hash:       sig.Hash,
		ChunkCount: chunkCount,
		IngestedAt: time.Now().UTC(),
	})
}

// RemoveProject destroys a project's knowledge base: its collection,
// fingerprints, and cached responses. The cache goes first for the
// same reason Run invalidates before writing: a failure part-way
// through must never leave answers cached for state that no longer
// exists.
func (p *Pipeline) RemoveProject(ctx context.Context, project string) error {
	if err := p.cache.InvalidateProject(ctx, project); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	collection := vectorstore.CollectionName(project)
	if err := p.store.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	if err := p.fingerprints.DeleteProject(ctx, project); err != nil {
		return fmt.Errorf("delete fingerprints: %w", err)
	}
	p.logger.Info("Removed project", "project", project)
	return nil
}
