// Package sqlite stores crawl checkpoints in a local SQLite database using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/state"
)

// Store implements crawler.StateStore on SQLite.
type Store struct {
	db  *sql.DB
	key string
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path, key string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state.sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		key TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if key == "" {
		key = state.DefaultKey
	}
	return &Store{db: db, key: key}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the checkpoint row inside a single statement.
func (s *Store) Save(ctx context.Context, snap crawler.Snapshot) error {
	data, err := state.Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO checkpoints (key, run_id, snapshot, saved_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		run_id = excluded.run_id,
		snapshot = excluded.snapshot,
		saved_at = excluded.saved_at`,
		s.key, snap.RunID, string(data), snap.SavedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint row.
func (s *Store) Load(ctx context.Context) (crawler.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM checkpoints WHERE key = ?`, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Snapshot{}, crawler.ErrNoCheckpoint
	}
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return state.Decode([]byte(data))
}
