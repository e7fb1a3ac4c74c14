package vectorstore

import "errors"

var (
	ErrUnreachable       = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrExhausted         = errors.New("vector store retries exhausted")
)
