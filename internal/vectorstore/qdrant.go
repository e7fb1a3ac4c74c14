// Package vectorstore wraps the Qdrant client. Each project owns one
// collection; chunks are upserted under deterministic point IDs so
// re-ingestion overwrites in place.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// Store wraps the Qdrant client with connection management and retries.
type Store struct {
	client    *qdrant.Client
	host      string
	port      int
	dimension int
}

// New creates a Store and validates connectivity. It performs a health
// check with retry on startup and fails fast if Qdrant is unreachable.
func New(host string, port, dimension int) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &Store{
		client:    client,
		host:      host,
		port:      port,
		dimension: dimension,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return s, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureCollection creates the collection for a project if it does not
// exist, configured for cosine similarity at the store's dimension.
// Idempotent - safe to call on every ingestion run.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	// Payload indexes for the fields delete and trim operations filter on.
	// Without these, filtered deletes degrade badly as collections grow.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      "source_path",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("index source_path on %s: %w", collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      "ordinal",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("index ordinal on %s: %w", collection, err)
	}

	return nil
}

// DropCollection removes a project's collection and every chunk in it.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return nil
}

// UpsertChunks writes chunks in batches of 100, retrying transient
// failures. Point IDs come from Chunk.ID, so writing the same document
// slot twice overwrites rather than duplicates.
func (s *Store) UpsertChunks(ctx context.Context, collection string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		if len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), s.dimension)
		}
	}

	const batchSize = 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))

		batch := chunks[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, chunk := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(chunk.ID),
				Vectors: qdrant.NewVectors(chunk.Embedding...),
				Payload: qdrant.NewValueMap(chunkPayload(chunk)),
			}
		}

		if err := s.upsertWithRetry(ctx, collection, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// upsertWithRetry performs one upsert with exponential backoff, mapping
// retry exhaustion to ErrExhausted.
func (s *Store) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	return nil
}

// DeleteByDocument removes every chunk whose source path matches.
func (s *Store) DeleteByDocument(ctx context.Context, collection, sourcePath string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_path", sourcePath),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", sourcePath, err)
	}
	return nil
}

// DeleteBeyondOrdinal removes chunks of a document at ordinal >= n.
// Called after upserting a modified document that shrank, so stale tail
// chunks from the longer previous version do not linger.
func (s *Store) DeleteBeyondOrdinal(ctx context.Context, collection, sourcePath string, n int) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_path", sourcePath),
				qdrant.NewRange("ordinal", &qdrant.Range{
					Gte: qdrant.PtrOf(float64(n)),
				}),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("trim chunks for %s beyond %d: %w", sourcePath, n, err)
	}
	return nil
}

// Search performs vector similarity search over a project's collection
// and returns up to topK chunks ordered by descending similarity.
// A missing collection yields no results rather than an error, so
// querying a project before its first ingestion is harmless.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int) ([]*ScoredChunk, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	scored := make([]*ScoredChunk, 0, len(results))
	for _, result := range results {
		scored = append(scored, &ScoredChunk{
			Chunk: chunkFromPayload(result.Id.GetUuid(), result.Payload),
			Score: float64(result.Score),
		})
	}
	return scored, nil
}

// CountChunks returns the number of chunks stored for a project.
func (s *Store) CountChunks(ctx context.Context, collection string) (uint64, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !exists {
		return 0, nil
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return count, nil
}

const extraPrefix = "extra_"

func chunkPayload(chunk *Chunk) map[string]any {
	payload := map[string]any{
		"source_path": chunk.SourcePath,
		"ordinal":     chunk.Ordinal,
		"content":     chunk.Content,
		"section":     chunk.Section,
		"file_type":   chunk.FileType,
	}
	for k, v := range chunk.Extra {
		payload[extraPrefix+k] = v
	}
	return payload
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) *Chunk {
	chunk := &Chunk{
		ID:         id,
		SourcePath: payload["source_path"].GetStringValue(),
		Ordinal:    int(payload["ordinal"].GetIntegerValue()),
		Content:    payload["content"].GetStringValue(),
		Section:    payload["section"].GetStringValue(),
		FileType:   payload["file_type"].GetStringValue(),
	}
	for k, v := range payload {
		if name, ok := strings.CutPrefix(k, extraPrefix); ok {
			if chunk.Extra == nil {
				chunk.Extra = make(map[string]string)
			}
			chunk.Extra[name] = v.GetStringValue()
		}
	}
	return chunk
}
