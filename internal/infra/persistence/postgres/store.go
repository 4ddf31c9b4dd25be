// Package postgres provides a Postgres-backed preference store so several
// processes on different hosts can share the unread list and history cursor.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"tripstore/pkg/domain"
)

var _ domain.PreferenceStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/tripstore?sslmode=disable"
	// DefaultScope namespaces preferences written by the trip store.
	DefaultScope = "tripstore"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists preference blobs in a scoped key-value table.
type Store struct {
	db    *sql.DB
	scope string
}

// NewStore opens the database at dsn (falls back to defaultDSN), pings it and
// ensures the preferences table exists. An empty scope uses DefaultScope.
func NewStore(ctx context.Context, dsn, scope string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if scope == "" {
		scope = DefaultScope
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensurePreferencesTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, scope: scope}, nil
}

func ensurePreferencesTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS preferences (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		payload BYTEA NOT NULL,
		PRIMARY KEY (scope, key)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure preferences table: %w", err)
	}
	return nil
}

// Data returns the payload stored under key.
func (s *Store) Data(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM preferences WHERE scope = $1 AND key = $2`, s.scope, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select preference %s: %w", key, err)
	}
	return payload, true, nil
}

// SetData upserts key.
func (s *Store) SetData(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(scope,key,payload) VALUES($1,$2,$3) ON CONFLICT(scope,key) DO UPDATE SET payload=EXCLUDED.payload`,
		s.scope, key, data); err != nil {
		return fmt.Errorf("upsert preference %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE scope = $1 AND key = $2`, s.scope, key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

// Scope returns the namespace this store reads and writes.
func (s *Store) Scope() string { return s.scope }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
