// Package postgres stores crawl checkpoints in a Postgres table, one JSONB
// row per checkpoint key.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/state"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for checkpoints.
type Config struct {
	DSN             string
	Table           string
	Key             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements crawler.StateStore on Postgres. A single upsert replaces
// the row, so readers see either the old or the new checkpoint.
type Store struct {
	pool  pool
	table string
	key   string
}

// New connects to Postgres and ensures the checkpoint table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table, cfg.Key)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table, key string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_checkpoints"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if key == "" {
		key = state.DefaultKey
	}
	return &Store{pool: p, table: table, key: key}, nil
}

// Migrate creates the checkpoint table if it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	snapshot JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save upserts the checkpoint row.
func (s *Store) Save(ctx context.Context, snap crawler.Snapshot) error {
	data, err := state.Encode(snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, run_id, snapshot, saved_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET run_id = EXCLUDED.run_id, snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.key, snap.RunID, data, snap.SavedAt); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint row.
func (s *Store) Load(ctx context.Context) (crawler.Snapshot, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE key = $1`, s.table)
	var data []byte
	err := s.pool.QueryRow(ctx, query, s.key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Snapshot{}, crawler.ErrNoCheckpoint
	}
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("select checkpoint: %w", err)
	}
	return state.Decode(data)
}
