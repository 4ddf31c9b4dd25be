// Package memory provides in-memory implementations of the history log and
// preference store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tripstore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.HistoryLog      = (*HistoryLog)(nil)
	_ domain.PreferenceStore = (*PreferenceStore)(nil)
)

// HistoryLog is an append-only transaction log held in process memory.
type HistoryLog struct {
	mu  sync.RWMutex
	txs []domain.Transaction
	now func() time.Time
}

// HistoryOption configures a HistoryLog.
type HistoryOption func(*HistoryLog)

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) HistoryOption {
	return func(l *HistoryLog) {
		if now != nil {
			l.now = now
		}
	}
}

// NewHistoryLog returns an empty log.
func NewHistoryLog(opts ...HistoryOption) *HistoryLog {
	l := &HistoryLog{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append commits one transaction. Sequences start at 1.
func (l *HistoryLog) Append(ctx context.Context, author string, changes []domain.Change) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	if err := domain.ValidateChanges(changes); err != nil {
		return domain.Transaction{}, fmt.Errorf("append: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := domain.Transaction{
		Token:       domain.HistoryToken{Sequence: uint64(len(l.txs)) + 1},
		Author:      author,
		CommittedAt: l.now().UTC(),
		Changes:     append([]domain.Change(nil), changes...),
	}
	l.txs = append(l.txs, tx)
	return domain.CloneTransaction(tx), nil
}

// ScanAfter returns matching transactions strictly after the cursor.
func (l *HistoryLog) ScanAfter(ctx context.Context, after *domain.HistoryToken, author string) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if after != nil && after.Sequence < uint64(len(l.txs)) {
		start = int(after.Sequence)
	} else if after != nil {
		return nil, nil
	}
	var out []domain.Transaction
	for _, tx := range l.txs[start:] {
		if domain.ScanMatches(tx, after, author) {
			out = append(out, domain.CloneTransaction(tx))
		}
	}
	return out, nil
}

// Len returns the number of committed transactions.
func (l *HistoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}
