// Package store persists container trees in SQLite, one tree per site key.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/dombind/container"
	"github.com/hazyhaar/dombind/dbopen"
	"github.com/hazyhaar/dombind/watch"
)

// ErrNotFound is returned by LoadTree when no tree exists for the site key.
var ErrNotFound = errors.New("store: tree not found")

const schema = `
CREATE TABLE IF NOT EXISTS container_trees (
	site_key   TEXT PRIMARY KEY,
	tree       TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE TRIGGER IF NOT EXISTS trg_container_trees_updated_at
AFTER UPDATE ON container_trees
BEGIN
	UPDATE container_trees SET updated_at = strftime('%s','now')
	WHERE site_key = NEW.site_key;
END;
`

// SQLite implements container.Store over a single SQLite database. Safe for
// concurrent use; writers retry on SQLITE_BUSY.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the store at path.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return New(db, logger)
}

// New wraps an already-open database, applying the schema.
func New(db *sql.DB, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for change watching.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

// SaveTree validates and upserts the tree for siteKey.
func (s *SQLite) SaveTree(ctx context.Context, siteKey string, root *container.Definition) error {
	if siteKey == "" {
		return fmt.Errorf("store: empty site key")
	}
	if root == nil {
		return fmt.Errorf("store: nil tree")
	}
	data, err := container.MarshalTree(root)
	if err != nil {
		return fmt.Errorf("store: encode tree: %w", err)
	}
	// Round-trip validation catches trees assembled with invalid paths.
	if _, err := container.UnmarshalTree(data); err != nil {
		return err
	}

	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO container_trees (site_key, tree) VALUES (?, ?)
		ON CONFLICT(site_key) DO UPDATE SET tree = excluded.tree`,
		siteKey, string(data))
	if err != nil {
		return fmt.Errorf("store: save tree %s: %w", siteKey, err)
	}
	s.logger.Info("store: tree saved", "site", siteKey)
	return nil
}

// LoadTree returns the tree for siteKey, or ErrNotFound.
func (s *SQLite) LoadTree(ctx context.Context, siteKey string) (*container.Definition, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT tree FROM container_trees WHERE site_key = ?`, siteKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, siteKey)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load tree %s: %w", siteKey, err)
	}
	return container.UnmarshalTree([]byte(data))
}

// ListSites returns all site keys with a stored tree, sorted.
func (s *SQLite) ListSites(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_key FROM container_trees ORDER BY site_key`)
	if err != nil {
		return nil, fmt.Errorf("store: list sites: %w", err)
	}
	defer rows.Close()

	var sites []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: scan site: %w", err)
		}
		sites = append(sites, k)
	}
	return sites, rows.Err()
}

// DeleteTree removes the tree for siteKey. Deleting a missing tree is a
// no-op.
func (s *SQLite) DeleteTree(ctx context.Context, siteKey string) error {
	if _, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM container_trees WHERE site_key = ?`, siteKey); err != nil {
		return fmt.Errorf("store: delete tree %s: %w", siteKey, err)
	}
	return nil
}

// Watch polls the database and invokes onChange when another connection or
// process rewrites any tree. Blocks until ctx is cancelled.
func (s *SQLite) Watch(ctx context.Context, interval time.Duration, onChange func() error) {
	w := watch.New(s.db, watch.Options{
		Interval: interval,
		Detector: watch.MaxColumnDetector("container_trees", "updated_at"),
		Logger:   s.logger,
	})
	w.OnChange(ctx, onChange)
}

var _ container.Store = (*SQLite)(nil)
