// Package extract turns source files into plain text for chunking.
// Format-specific extraction sits behind the Extractor interface so the
// ingestion pipeline never depends on a particular parser.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned for files no registered extractor handles.
var ErrUnsupportedType = errors.New("unsupported file type")

// Error reports an extraction failure for a specific file. The pipeline
// skips the document and records the path and reason.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extractor converts one file format into plain text.
type Extractor interface {
	// Extract reads the file at path and returns its text content.
	Extract(ctx context.Context, path string) (string, error)

	// Extensions lists the lowercase file extensions this extractor
	// handles, including the leading dot.
	Extensions() []string
}

// Registry dispatches extraction by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry creates a registry with the given extractors. A later
// extractor claiming an already-registered extension wins.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, e := range extractors {
		for _, ext := range e.Extensions() {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
	return r
}

// DefaultRegistry returns a registry with the built-in extractors.
func DefaultRegistry() *Registry {
	return NewRegistry(NewPlainText(), NewMarkdown(), NewPDF(), NewDOCX())
}

// Extensions returns every extension the registry can handle.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// Supported reports whether a file at path can be extracted.
func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract dispatches to the extractor for the file's extension and
// frames the result with file name and parent-folder context, matching
// what gets embedded alongside the content. All failures come back as
// *Error carrying the path.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := r.byExt[ext]
	if !ok {
		return "", &Error{Path: path, Err: ErrUnsupportedType}
	}

	text, err := extractor.Extract(ctx, path)
	if err != nil {
		return "", &Error{Path: path, Err: err}
	}

	name := filepath.Base(path)
	folder := filepath.Base(filepath.Dir(path))
	return fmt.Sprintf("File: %s\nLocation: %s\n\n%s", name, folder, text), nil
}
