package fingerprint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// jsonEmpty is the stored form of an absent extras map.
const jsonEmpty = "{}"

// Store persists fingerprint records in SQLite, one row per
// (project, path). Commits are per-row and atomic; the ingestion
// pipeline writes a record only after the document's chunks are
// durably upserted.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the fingerprint database under
// dataDir.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "fingerprints.db")

	// WAL mode so concurrent readers do not block the committing writer.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fingerprints (
			project     TEXT NOT NULL,
			path        TEXT NOT NULL,
			size        INTEGER NOT NULL,
			hash        TEXT NOT NULL,
			chunk_count INTEGER NOT NULL,
			ingested_at TEXT NOT NULL,
			extra       TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (project, path)
		)
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns every stored record for a project, keyed by path.
func (s *Store) Load(ctx context.Context, project string) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, hash, chunk_count, ingested_at, extra
		 FROM fingerprints WHERE project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("loading fingerprints for %s: %w", project, err)
	}
	defer rows.Close()

	records := make(map[string]Record)
	for rows.Next() {
		var (
			rec        Record
			ingestedAt string
			extra      string
		)
		if err := rows.Scan(&rec.Path, &rec.Size, &rec.Hash, &rec.ChunkCount, &ingestedAt, &extra); err != nil {
			return nil, fmt.Errorf("scanning fingerprint row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ingestedAt); err == nil {
			rec.IngestedAt = t
		}
		if extra != "" && extra != jsonEmpty {
			if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
				return nil, fmt.Errorf("decoding extra for %s: %w", rec.Path, err)
			}
		}
		records[rec.Path] = rec
	}
	return records, rows.Err()
}

// Put inserts or replaces the record for (project, record.Path).
func (s *Store) Put(ctx context.Context, project string, rec Record) error {
	extra := jsonEmpty
	if len(rec.Extra) > 0 {
		data, err := json.Marshal(rec.Extra)
		if err != nil {
			return fmt.Errorf("encoding extra for %s: %w", rec.Path, err)
		}
		extra = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (project, path, size, hash, chunk_count, ingested_at, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project, path) DO UPDATE SET
			size = excluded.size,
			hash = excluded.hash,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at,
			extra = excluded.extra`,
		project, rec.Path, rec.Size, rec.Hash, rec.ChunkCount,
		rec.IngestedAt.UTC().Format(time.RFC3339Nano), extra)
	if err != nil {
		return fmt.Errorf("storing fingerprint for %s: %w", rec.Path, err)
	}
	return nil
}

// Delete removes the record for one document.
func (s *Store) Delete(ctx context.Context, project, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE project = ? AND path = ?`, project, path)
	if err != nil {
		return fmt.Errorf("deleting fingerprint for %s: %w", path, err)
	}
	return nil
}

// DeleteProject removes every record for a project. Used when the
// project itself is removed.
func (s *Store) DeleteProject(ctx context.Context, project string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE project = ?`, project)
	if err != nil {
		return fmt.Errorf("deleting fingerprints for project %s: %w", project, err)
	}
	return nil
}
