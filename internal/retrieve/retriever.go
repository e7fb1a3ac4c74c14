// Package retrieve serves similarity queries over a project's chunks.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fieldworks/grantkb/internal/vectorstore"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher runs a similarity query against a collection.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]*vectorstore.ScoredChunk, error)
}

// Result is one retrieved chunk with its citation.
type Result struct {
	Content    string
	SourcePath string
	Ordinal    int
	Section    string
	Score      float64
}

// Retriever embeds a query and returns the most similar chunks.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	logger   *slog.Logger
}

// New creates a Retriever.
func New(embedder Embedder, searcher Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		logger:   logger,
	}
}

// Retrieve returns up to topK chunks for the query, ordered by
// descending similarity with ties broken by (source path, ordinal)
// ascending. The deterministic order keeps downstream report
// generation reproducible. A project with no ingested chunks yields
// an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, project, query string, topK int) ([]Result, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	collection := vectorstore.CollectionName(project)
	scored, err := r.searcher.Search(ctx, collection, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	results := make([]Result, 0, len(scored))
	for _, sc := range scored {
		results = append(results, Result{
			Content:    sc.Chunk.Content,
			SourcePath: sc.Chunk.SourcePath,
			Ordinal:    sc.Chunk.Ordinal,
			Section:    sc.Chunk.Section,
			Score:      sc.Score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].SourcePath != results[j].SourcePath {
			return results[i].SourcePath < results[j].SourcePath
		}
		return results[i].Ordinal < results[j].Ordinal
	})

	r.logger.Debug("Retrieved chunks", "project", project, "results", len(results))
	return results, nil
}
