// Package fingerprint tracks per-project document signatures so
// ingestion only re-embeds files that actually changed.
package fingerprint

import "time"

// Record is the stored fingerprint for one ingested document.
type Record struct {
	Path       string            // relative to the project document directory
	Size       int64             // file size in bytes
	Hash       string            // xxh3 content hash, hex encoded
	ChunkCount int               // chunks written on last ingestion
	IngestedAt time.Time
	Extra      map[string]string // format-specific extras (sheet names, page counts)
}

// Signature is the current on-disk identity of a document, produced by
// scanning. It becomes a Record once ingestion commits.
type Signature struct {
	Path string // relative path, also the fingerprint key
	Size int64
	Hash string
}

// Matches reports whether the stored record still describes this
// signature. Content hash comparison avoids false positives from copy
// operations that preserve bytes but not timestamps.
func (r Record) Matches(sig Signature) bool {
	return r.Size == sig.Size && r.Hash == sig.Hash
}

// Diff is the outcome of comparing a project directory against its
// stored fingerprints.
type Diff struct {
	Added    []Signature
	Modified []Signature
	Removed  []string // stored paths no longer on disk
}

// Empty reports whether nothing changed since the last ingestion.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}
