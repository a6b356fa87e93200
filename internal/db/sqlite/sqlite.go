// Package sqlite opens the relational store holding images and their
// derived signals, and applies the schema on startup.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite database at path with WAL
// journaling, foreign keys, and a busy timeout suitable for concurrent
// HTTP handlers.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"foreign_keys(1)",
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode())

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The driver is in-process; a single writer avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Migrate creates the schema when absent. Statements are idempotent, so
// running on every startup is safe.
func Migrate(ctx context.Context, conn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			filename      TEXT NOT NULL UNIQUE,
			original_name TEXT NOT NULL DEFAULT '',
			storage_path  TEXT NOT NULL DEFAULT '',
			size          INTEGER NOT NULL DEFAULT 0,
			mime_type     TEXT NOT NULL DEFAULT '',
			width         INTEGER NOT NULL DEFAULT 0,
			height        INTEGER NOT NULL DEFAULT 0,
			title         TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			tags          TEXT NOT NULL DEFAULT '',
			content_hash  TEXT NOT NULL DEFAULT '',
			phash         TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_content_hash ON images(content_hash)`,

		`CREATE TABLE IF NOT EXISTS image_hashes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id   INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tile_index INTEGER NOT NULL,
			grid_size  INTEGER NOT NULL,
			stride     INTEGER NOT NULL DEFAULT 0,
			hash       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_image_hashes_image ON image_hashes(image_id)`,

		`CREATE TABLE IF NOT EXISTS image_colors (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id  INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			variant   TEXT NOT NULL,
			bin_count INTEGER NOT NULL,
			histogram TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_image_colors_image ON image_colors(image_id)`,

		`CREATE TABLE IF NOT EXISTS image_embeddings (
			image_id   INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			model      TEXT NOT NULL,
			dim        INTEGER NOT NULL,
			vector     BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (image_id, model)
		)`,

		`CREATE TABLE IF NOT EXISTS image_regions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id  INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			model     TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			overlap   REAL NOT NULL,
			x         REAL NOT NULL,
			y         REAL NOT NULL,
			w         REAL NOT NULL,
			h         REAL NOT NULL,
			vector    BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_image_regions_image_model ON image_regions(image_id, model)`,
	}

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
