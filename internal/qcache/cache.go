// Package qcache is the persistent query/response cache. Keys are
// derived from normalized query text plus retrieval parameters plus
// project identity, so semantically identical repeated queries hit.
// Entries have no TTL: staleness is driven by ingestion events, which
// invalidate a project's entries whenever its knowledge base changes.
package qcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite" // SQLite driver
)

// Params are the retrieval parameters that shape a cached response.
// Two queries with different parameters never share an entry.
type Params struct {
	TopK  int
	Model string
}

func (p Params) canonical() string {
	return fmt.Sprintf("topk=%d&model=%s", p.TopK, p.Model)
}

// Cache is a process-wide response cache backed by its own SQLite file.
// Its lifecycle is independent from the knowledge base: clearing it is
// always safe.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the cache database under dataDir.
func Open(dataDir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "cache.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			key        TEXT PRIMARY KEY,
			project    TEXT NOT NULL,
			response   TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_responses_project ON responses (project);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives the deterministic cache key for a query. Query text is
// case-folded and whitespace-collapsed first, so "What  Budget?" and
// "what budget?" share an entry.
func Key(project, query string, params Params) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := xxh3.HashString128(project + "\x00" + normalized + "\x00" + params.canonical())
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}

// GetOrCompute returns the cached response for (project, query, params)
// if present; otherwise it invokes compute, stores the result, and
// returns it. Cache failures are logged and degrade to a direct
// computation - a broken cache never blocks a query. The returned bool
// reports whether the response came from the cache.
func (c *Cache) GetOrCompute(ctx context.Context, project, query string, params Params,
	compute func(context.Context) (string, error)) (string, bool, error) {

	key := Key(project, query, params)

	var response string
	err := c.db.QueryRowContext(ctx,
		`SELECT response FROM responses WHERE key = ?`, key).Scan(&response)
	switch {
	case err == nil:
		return response, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		c.logger.Warn("cache read failed, computing directly", "key", key, "error", err)
	}

	response, err = compute(ctx)
	if err != nil {
		return "", false, err
	}

	// Last-writer-wins is fine: compute is deterministic for a given
	// knowledge-base state, so concurrent writers store the same value.
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO responses (key, project, response, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
			response = excluded.response,
			created_at = excluded.created_at`,
		key, project, response, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}

	return response, false, nil
}

// InvalidateProject removes every entry for a project. The ingestion
// pipeline calls this whenever the project's document set changes.
func (c *Cache) InvalidateProject(ctx context.Context, project string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM responses WHERE project = ?`, project)
	if err != nil {
		return fmt.Errorf("invalidating cache for %s: %w", project, err)
	}
	return nil
}
