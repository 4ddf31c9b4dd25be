// Package badger implements the transaction history log as a BadgerDB journal.
//
// Key format: "history:{seq:016d}". Zero padding keeps lexical key order equal
// to commit order, so a prefix iteration yields transactions oldest first.
// Value format: [4-byte CRC32][JSON-encoded transaction].
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"math"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"tripstore/pkg/domain"
)

const keyPrefix = "history:"

var (
	// ErrJournalClosed is returned when operations are called on a closed journal.
	ErrJournalClosed = errors.New("journal is closed")
	// ErrJournalCorrupted is returned when an entry fails its integrity check.
	ErrJournalCorrupted = errors.New("journal entry corrupted")
)

var _ domain.HistoryLog = (*Journal)(nil)

// Config configures a Journal.
type Config struct {
	// Path is the BadgerDB directory. Required unless InMemory is set.
	Path string
	// InMemory keeps the journal in memory (tests).
	InMemory bool
	// SyncWrites fsyncs every append.
	SyncWrites bool
	// Logger receives journal and BadgerDB logs. Default: slog.Default().
	Logger *slog.Logger
	// Now supplies commit timestamps. Default: time.Now.
	Now func() time.Time
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for persistent journal")
	}
	return nil
}

// Journal is a domain.HistoryLog backed by BadgerDB.
type Journal struct {
	db     *dgbadger.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// Open opens or creates the journal described by cfg.
func Open(cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	path := cfg.Path
	if cfg.InMemory {
		path = ""
	}
	opts := dgbadger.DefaultOptions(path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{cfg.Logger})
	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	j := &Journal{db: db, logger: cfg.Logger.With(slog.String("component", "journal")), now: cfg.Now}
	if err := j.initSeq(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sequence number: %w", err)
	}
	j.logger.Info("journal opened", slog.String("path", cfg.Path), slog.Uint64("last_seq", j.seq))
	return j, nil
}

// initSeq seeks to the highest existing key.
func (j *Journal) initSeq() error {
	return j.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append([]byte(keyPrefix), 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix([]byte(keyPrefix)) {
			seq, err := parseKey(it.Item().Key())
			if err != nil {
				return err
			}
			j.seq = seq
		}
		return nil
	})
}

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", keyPrefix, seq))
}

func parseKey(key []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefix):]), "%016d", &seq); err != nil {
		return 0, fmt.Errorf("malformed journal key %q: %w", key, err)
	}
	return seq, nil
}

func encodeEntry(tx domain.Transaction) ([]byte, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(payload))
	copy(out[4:], payload)
	return out, nil
}

func decodeEntry(data []byte) (domain.Transaction, error) {
	if len(data) < 5 {
		return domain.Transaction{}, fmt.Errorf("%w: entry too short", ErrJournalCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	payload := data[4:]
	if computed := crc32.ChecksumIEEE(payload); stored != computed {
		return domain.Transaction{}, fmt.Errorf("%w: stored=%08x computed=%08x", ErrJournalCorrupted, stored, computed)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode entry: %w", err)
	}
	return tx, nil
}

// Append commits one transaction under the next sequence number.
func (j *Journal) Append(ctx context.Context, author string, changes []domain.Change) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	if err := domain.ValidateChanges(changes); err != nil {
		return domain.Transaction{}, fmt.Errorf("append: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return domain.Transaction{}, ErrJournalClosed
	}
	tx := domain.Transaction{
		Token:       domain.HistoryToken{Sequence: j.seq + 1},
		Author:      author,
		CommittedAt: j.now().UTC(),
		Changes:     append([]domain.Change(nil), changes...),
	}
	data, err := encodeEntry(tx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("encode entry: %w", err)
	}
	if err := j.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set(entryKey(tx.Token.Sequence), data)
	}); err != nil {
		return domain.Transaction{}, fmt.Errorf("write entry: %w", err)
	}
	j.seq = tx.Token.Sequence
	j.logger.Debug("transaction appended", slog.Uint64("seq", j.seq), slog.String("author", author), slog.Int("changes", len(changes)))
	return tx, nil
}

// ScanAfter returns matching transactions strictly after the cursor. A
// corrupted entry aborts the scan with an error wrapping ErrJournalCorrupted.
func (j *Journal) ScanAfter(ctx context.Context, after *domain.HistoryToken, author string) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return nil, ErrJournalClosed
	}
	start := uint64(1)
	if after != nil {
		if after.Sequence == math.MaxUint64 {
			return nil, nil
		}
		start = after.Sequence + 1
	}
	var out []domain.Transaction
	prefix := []byte(keyPrefix)
	err := j.db.View(func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryKey(start)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq, err := parseKey(item.Key())
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				tx, err := decodeEntry(val)
				if err != nil {
					return fmt.Errorf("entry %d: %w", seq, err)
				}
				if domain.ScanMatches(tx, after, author) {
					out = append(out, tx)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return out, nil
}

// LastSequence returns the sequence of the newest transaction.
func (j *Journal) LastSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close syncs and releases the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// badgerLogger routes BadgerDB's printf-style logs into slog.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
