package vectorstore

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace seeds deterministic chunk point IDs. Fixed forever;
// changing it would orphan every stored chunk.
var chunkNamespace = uuid.MustParse("f3b2c9d4-7a15-4e8e-9c40-2d6a51b0e7a9")

// Chunk is one embedded slice of a source document, keyed by a stable
// identifier derived from the document path and chunk ordinal so that
// re-embedding overwrites rather than duplicates.
type Chunk struct {
	ID         string            // deterministic UUID, see ChunkPointID
	SourcePath string            // path relative to the project root
	Ordinal    int               // position within the document (0, 1, 2...)
	Content    string            // chunk text
	Section    string            // page/section context when the format provides one
	FileType   string            // source extension without the dot
	Extra      map[string]string // format-specific metadata
	Embedding  []float32
}

// ScoredChunk is a search result: a chunk plus its similarity score
// (1 - cosine distance, higher is more similar).
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// ChunkPointID derives the stable point ID for a chunk from its source
// path and ordinal. Deterministic, so upserting the same document slot
// always targets the same point.
func ChunkPointID(sourcePath string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", sourcePath, ordinal))).String()
}
