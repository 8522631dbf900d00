package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the durable backend; entries survive restarts.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the cache database at dsn.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// A single connection keeps in-memory databases coherent and serializes writes.
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteBackend(ctx context.Context, db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.init(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite cache: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	var (
		raw                  string
		createdAt, expiresAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value, created_at, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&raw, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get %s: %w", key, err)
	}

	e := &Entry{Key: key, CreatedAt: time.Unix(0, createdAt), ExpiresAt: time.Unix(0, expiresAt)}
	if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return e, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO cache_entries(key, value, created_at, expires_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		e.Key, string(data), e.CreatedAt.UnixNano(), e.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", e.Key, err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *SQLiteBackend) Flush(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("sqlite flush: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}
