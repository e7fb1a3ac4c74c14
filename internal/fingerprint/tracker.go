package fingerprint

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// Tracker computes the diff between a project's document directory and
// its stored fingerprints. It never mutates the store; commits happen
// in the ingestion pipeline after embeddings are durably written, so a
// crash mid-ingestion leaves stale-but-consistent fingerprints.
type Tracker struct {
	supported map[string]bool
}

// NewTracker creates a Tracker that considers only files with the given
// extensions (lowercase, with leading dot).
func NewTracker(extensions []string) *Tracker {
	supported := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		supported[strings.ToLower(ext)] = true
	}
	return &Tracker{supported: supported}
}

// Diff walks dir and classifies every supported file against stored:
// added (no stored record), modified (signature differs), removed
// (stored path gone from disk). Paths in the result are relative to
// dir and sorted for deterministic processing order.
func (t *Tracker) Diff(ctx context.Context, dir string, stored map[string]Record) (*Diff, error) {
	current, err := t.scan(ctx, dir)
	if err != nil {
		return nil, err
	}

	diff := &Diff{}
	seen := make(map[string]bool, len(current))
	for _, sig := range current {
		seen[sig.Path] = true
		rec, ok := stored[sig.Path]
		switch {
		case !ok:
			diff.Added = append(diff.Added, sig)
		case !rec.Matches(sig):
			diff.Modified = append(diff.Modified, sig)
		}
	}

	for path := range stored {
		if !seen[path] {
			diff.Removed = append(diff.Removed, path)
		}
	}
	sort.Strings(diff.Removed)

	return diff, nil
}

// scan collects signatures for every supported file under dir,
// sorted by relative path.
func (t *Tracker) scan(ctx context.Context, dir string) ([]Signature, error) {
	var sigs []Signature

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !t.supported[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := HashFile(path)
		if err != nil {
			return err
		}

		sigs = append(sigs, Signature{
			Path: filepath.ToSlash(rel),
			Size: info.Size(),
			Hash: hash,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Path < sigs[j].Path })
	return sigs, nil
}

// HashFile computes the hex-encoded xxh3 hash of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
