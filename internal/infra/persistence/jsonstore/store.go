// Package jsonstore persists a container's entity snapshots as one JSON
// document held in a blob store.
//
// The document is a JSON array of snapshot records sorted by identifier token.
// Every Save rewrites the whole document through the blob store's atomic Put,
// so readers observe either the previous or the next document in full.
//
// Saves within one Store are serialized by a mutex. Two processes (or two
// Store values) saving the same container are last-writer-wins at document
// granularity; callers must keep a single writer per container.
package jsonstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"tripstore/internal/blob"
	"tripstore/pkg/domain"
)

const contentType = "application/json"

// Logger is the structured logging surface the store writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Configuration names the container. Name is stamped into permanent
// identifiers; Key is the blob key of the document and defaults to Name+".json".
type Configuration struct {
	Name string
	Key  string
}

// Option customises a Store.
type Option func(*Store)

// WithLogger installs a logger.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHistoryLog records one transaction per successful Save.
func WithHistoryLog(log domain.HistoryLog) Option {
	return func(s *Store) { s.history = log }
}

// WithKeyMinter overrides how permanent primary keys are generated.
func WithKeyMinter(mint func() string) Option {
	return func(s *Store) {
		if mint != nil {
			s.mint = mint
		}
	}
}

// Store is the JSON document store for one container.
type Store struct {
	mu      sync.Mutex
	blobs   blob.Store
	cfg     Configuration
	history domain.HistoryLog
	logger  Logger
	mint    func() string
}

// New returns a store for the container described by cfg.
func New(blobs blob.Store, cfg Configuration, opts ...Option) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("jsonstore: blob store required")
	}
	if cfg.Name == "" {
		return nil, errors.New("jsonstore: configuration name required")
	}
	if cfg.Key == "" {
		cfg.Key = cfg.Name + ".json"
	}
	s := &Store{blobs: blobs, cfg: cfg, logger: noopLogger{}, mint: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the container name stamped into permanent identifiers.
func (s *Store) Name() string { return s.cfg.Name }

// Key returns the blob key of the document.
func (s *Store) Key() string { return s.cfg.Key }

// Read loads the document. A non-empty entity restricts the result to that
// kind. A missing blob is the empty first-run document; bytes that do not
// parse as a record array fail with *domain.CorruptDocumentError. A record
// that fails to decode is logged and skipped.
func (s *Store) Read(ctx context.Context, entity domain.EntityName) (domain.Document, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if entity == "" {
		return doc, nil
	}
	for id := range doc {
		if id.Entity != entity {
			delete(doc, id)
		}
	}
	return doc, nil
}

// Write atomically replaces the document with doc.
func (s *Store) Write(ctx context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, doc)
}

func (s *Store) load(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, rc, err := s.blobs.Get(ctx, s.cfg.Key)
	if errors.Is(err, blob.ErrNotFound) {
		return domain.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.cfg.Key, err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.cfg.Key, err)
	}
	return s.decode(raw)
}

func (s *Store) decode(raw []byte) (domain.Document, error) {
	doc := domain.Document{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &domain.CorruptDocumentError{Location: s.cfg.Key, Err: err}
	}
	for i, rec := range records {
		var snap domain.Snapshot
		if err := json.Unmarshal(rec, &snap); err != nil {
			s.logger.Warn("skipping undecodable record", "document", s.cfg.Key, "index", i, "error", err)
			continue
		}
		if _, err := domain.FromSnapshot(snap); err != nil {
			s.logger.Warn("skipping malformed snapshot", "document", s.cfg.Key, "identifier", snap.Identifier().String(), "error", err)
			continue
		}
		if _, dup := doc[snap.Identifier()]; dup {
			s.logger.Warn("duplicate identifier in document, keeping last", "document", s.cfg.Key, "identifier", snap.Identifier().String())
		}
		doc[snap.Identifier()] = snap
	}
	return doc, nil
}

// Encode renders doc in the canonical on-disk form: an indented array sorted
// by identifier token with field names in lexical order.
func Encode(doc domain.Document) ([]byte, error) {
	snaps := doc.Snapshots()
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	out, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func (s *Store) write(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, snap := range doc {
		if snap.Identifier() != id {
			return fmt.Errorf("write %s: snapshot %s stored under %s", s.cfg.Key, snap.Identifier(), id)
		}
	}
	payload, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.cfg.Key, err)
	}
	if _, err := s.blobs.Put(ctx, s.cfg.Key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("write %s: %w", s.cfg.Key, err)
	}
	return nil
}
