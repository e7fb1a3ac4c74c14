// Package config holds the environment-driven configuration for the
// knowledge-base engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrInvalid is returned when a configuration value is out of range.
// Validation failures are fatal at startup; nothing recovers from them mid-run.
var ErrInvalid = errors.New("invalid configuration")

const (
	// DefaultChunkSize is the chunk window size in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of characters shared between
	// consecutive chunks.
	DefaultChunkOverlap = 200

	// DefaultTopK is the number of chunks returned per retrieval.
	DefaultTopK = 5

	// DefaultEmbeddingModel is the OpenAI embedding model.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimension matches text-embedding-3-small.
	DefaultEmbeddingDimension = 1536

	// DefaultGenerationModel is the chat model used for answer synthesis.
	DefaultGenerationModel = "gpt-4o"
)

// Config carries every recognized option for the engine.
type Config struct {
	DataDir string // fingerprint and cache databases live here

	QdrantHost string
	QdrantPort int

	EmbeddingModel     string
	EmbeddingDimension int
	GenerationModel    string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	IngestWorkers int // documents embedded concurrently per project
}

// FromEnv builds a Config from environment variables, applying defaults
// for anything unset. Call Validate before using the result.
func FromEnv() *Config {
	return &Config{
		DataDir:            getEnv("GRANTKB_DATA_DIR", defaultDataDir()),
		QdrantHost:         getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:         getEnvInt("QDRANT_PORT", 6334),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", DefaultEmbeddingModel),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", DefaultEmbeddingDimension),
		GenerationModel:    getEnv("LLM_MODEL", DefaultGenerationModel),
		ChunkSize:          getEnvInt("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:       getEnvInt("CHUNK_OVERLAP", DefaultChunkOverlap),
		TopK:               getEnvInt("TOP_K", DefaultTopK),
		IngestWorkers:      getEnvInt("INGEST_WORKERS", 4),
	}
}

// Validate checks every option against its documented range.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalid, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalid, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)",
			ErrInvalid, c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK < 1 {
		return fmt.Errorf("%w: top-K must be at least 1, got %d", ErrInvalid, c.TopK)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalid, c.EmbeddingDimension)
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("%w: ingest workers must be at least 1, got %d", ErrInvalid, c.IngestWorkers)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".grantkb"
	}
	return home + "/.grantkb"
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
