// Package sqlite persists the transaction history and app preferences in a
// single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tripstore/pkg/domain"
)

var (
	_ domain.HistoryLog      = (*Store)(nil)
	_ domain.PreferenceStore = (*Preferences)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	author TEXT NOT NULL,
	committed_at TEXT NOT NULL,
	changes BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS history_author_seq ON history(author, seq);
CREATE TABLE IF NOT EXISTS preferences (
	scope TEXT NOT NULL,
	key TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (scope, key)
)`

// Store is a domain.HistoryLog over the history table and a factory for
// scoped preference stores over the preferences table.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "tripstore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// SetClock overrides the commit timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Append inserts one transaction; the row id is its sequence.
func (s *Store) Append(ctx context.Context, author string, changes []domain.Change) (domain.Transaction, error) {
	if err := domain.ValidateChanges(changes); err != nil {
		return domain.Transaction{}, fmt.Errorf("append: %w", err)
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("encode changes: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	committed := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO history(author, committed_at, changes) VALUES(?,?,?)`,
		author, committed.Format(time.RFC3339Nano), payload)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert history: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("history sequence: %w", err)
	}
	return domain.Transaction{
		Token:       domain.HistoryToken{Sequence: uint64(seq)},
		Author:      author,
		CommittedAt: committed,
		Changes:     append([]domain.Change(nil), changes...),
	}, nil
}

// ScanAfter returns matching transactions strictly after the cursor.
func (s *Store) ScanAfter(ctx context.Context, after *domain.HistoryToken, author string) ([]domain.Transaction, error) {
	var from uint64
	if after != nil {
		from = after.Sequence
	}
	// seq is a signed rowid; no row follows a cursor past its range.
	if from > math.MaxInt64 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, author, committed_at, changes FROM history WHERE seq > ? AND (? = '' OR author = ?) ORDER BY seq`,
		int64(from), author, author)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Transaction
	for rows.Next() {
		var (
			seq       int64
			tx        domain.Transaction
			committed string
			payload   []byte
		)
		if err := rows.Scan(&seq, &tx.Author, &committed, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		tx.Token = domain.HistoryToken{Sequence: uint64(seq)}
		if tx.CommittedAt, err = time.Parse(time.RFC3339Nano, committed); err != nil {
			return nil, fmt.Errorf("history %d committed_at: %w", seq, err)
		}
		if err := json.Unmarshal(payload, &tx.Changes); err != nil {
			return nil, fmt.Errorf("history %d changes: %w", seq, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Preferences returns the preference store for scope.
func (s *Store) Preferences(scope string) *Preferences {
	return &Preferences{db: s.db, scope: scope}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Preferences is a domain.PreferenceStore scoped to one app.
type Preferences struct {
	db    *sql.DB
	scope string
}

// Data returns the payload stored under key.
func (p *Preferences) Data(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM preferences WHERE scope = ? AND key = ?`, p.scope, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select preference %s: %w", key, err)
	}
	return payload, true, nil
}

// SetData upserts key.
func (p *Preferences) SetData(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO preferences(scope, key, payload) VALUES(?,?,?) ON CONFLICT(scope, key) DO UPDATE SET payload=excluded.payload`,
		p.scope, key, data)
	if err != nil {
		return fmt.Errorf("upsert preference %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (p *Preferences) Remove(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM preferences WHERE scope = ? AND key = ?`, p.scope, key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}
