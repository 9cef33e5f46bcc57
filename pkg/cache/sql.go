package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists cache entries in a relational database through a
// shared *sql.DB. Works with the sqlite3, mysql and postgres drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint VARCHAR(255) PRIMARY KEY,
	value       BLOB,
	created_at  BIGINT NOT NULL,
	ttl_seconds BIGINT NOT NULL
)`

// postgres has no BLOB type
const sqlSchemaPostgres = `
CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint VARCHAR(255) PRIMARY KEY,
	value       BYTEA,
	created_at  BIGINT NOT NULL,
	ttl_seconds BIGINT NOT NULL
)`

// NewSQLStore creates the backing table if needed and returns the store.
// The *sql.DB is shared and not closed by this store.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	schema := sqlSchema
	if driver == "postgres" {
		schema = sqlSchemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders for drivers that use positional ones.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Get returns the cached value. Expired rows are deleted lazily and
// reported as misses.
func (s *SQLStore) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	query := s.rebind(`SELECT value, created_at, ttl_seconds FROM result_cache WHERE fingerprint = ?`)

	var (
		value      []byte
		createdAt  int64
		ttlSeconds int64
	)
	err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(&value, &createdAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	entry := &Entry{
		Fingerprint: fingerprint,
		Value:       value,
		CreatedAt:   time.Unix(createdAt, 0),
		TTL:         time.Duration(ttlSeconds) * time.Second,
	}
	if entry.Expired(time.Now()) {
		del := s.rebind(`DELETE FROM result_cache WHERE fingerprint = ?`)
		_, _ = s.db.ExecContext(ctx, del, fingerprint)
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores the value, replacing any previous row for the fingerprint.
// Delete-then-insert inside a transaction keeps the statement portable
// across the supported drivers.
func (s *SQLStore) Set(ctx context.Context, fingerprint string, value []byte, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := s.rebind(`DELETE FROM result_cache WHERE fingerprint = ?`)
	if _, err := tx.ExecContext(ctx, del, fingerprint); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}

	ins := s.rebind(`INSERT INTO result_cache (fingerprint, value, created_at, ttl_seconds) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, ins, fingerprint, value, time.Now().Unix(), int64(ttl/time.Second)); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Invalidate drops every entry scoped to the namespace.
func (s *SQLStore) Invalidate(ctx context.Context, namespace string) error {
	query := s.rebind(`DELETE FROM result_cache WHERE fingerprint LIKE ?`)
	if _, err := s.db.ExecContext(ctx, query, namespace+":%"); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

// Close is a no-op: the *sql.DB belongs to the shared pool.
func (s *SQLStore) Close() error { return nil }
