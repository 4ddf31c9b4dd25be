package domain

import (
	"context"
	"fmt"
	"time"
)

// ChangeKind discriminates change records in a transaction.
type ChangeKind uint8

// Change kinds recorded by the document store.
const (
	ChangeInsert ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	return k == ChangeInsert || k == ChangeUpdate || k == ChangeDelete
}

// MarshalText implements encoding.TextMarshaler.
func (k ChangeKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChangeKind, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown kinds are
// rejected rather than skipped.
func (k *ChangeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "insert":
		*k = ChangeInsert
	case "update":
		*k = ChangeUpdate
	case "delete":
		*k = ChangeDelete
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChangeKind, string(text))
	}
	return nil
}

// Change records one entity mutation within a transaction. Entity duplicates
// Identifier.Entity so log backends can filter without parsing tokens.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Identifier Identifier `json:"identifier"`
	Entity     EntityName `json:"entity"`
}

// NewChange builds a change record for id.
func NewChange(kind ChangeKind, id Identifier) Change {
	return Change{Kind: kind, Identifier: id, Entity: id.Entity}
}

// ChangeVisitor handles each change kind. Adding a kind adds a method here,
// so every visitor must be updated before the code compiles again.
type ChangeVisitor interface {
	VisitInsert(Change)
	VisitUpdate(Change)
	VisitDelete(Change)
}

// Accept dispatches c to the visitor method for its kind.
func (c Change) Accept(v ChangeVisitor) error {
	switch c.Kind {
	case ChangeInsert:
		v.VisitInsert(c)
	case ChangeUpdate:
		v.VisitUpdate(c)
	case ChangeDelete:
		v.VisitDelete(c)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownChangeKind, c.Kind)
	}
	return nil
}

// HistoryToken is a position in a transaction log. The zero token precedes
// every transaction.
type HistoryToken struct {
	Sequence uint64 `json:"sequence"`
}

// After reports whether t is strictly later than o.
func (t HistoryToken) After(o HistoryToken) bool { return t.Sequence > o.Sequence }

// IsZero reports whether t is the beginning-of-time token.
func (t HistoryToken) IsZero() bool { return t.Sequence == 0 }

// Transaction is one committed batch of changes. Token is the cursor value
// after the transaction.
type Transaction struct {
	Token       HistoryToken `json:"token"`
	Author      string       `json:"author"`
	CommittedAt time.Time    `json:"committed_at"`
	Changes     []Change     `json:"changes"`
}

// HistoryLog is an append-only, totally ordered transaction log.
type HistoryLog interface {
	// Append commits one transaction and returns it with its assigned token.
	Append(ctx context.Context, author string, changes []Change) (Transaction, error)
	// ScanAfter returns transactions strictly after the cursor whose author
	// matches, in commit order. A nil cursor scans the whole log.
	ScanAfter(ctx context.Context, after *HistoryToken, author string) ([]Transaction, error)
}

// ValidateChanges rejects change records a log must not persist.
func ValidateChanges(changes []Change) error {
	for i, c := range changes {
		if !c.Kind.Valid() {
			return fmt.Errorf("change %d: %w: %s", i, ErrUnknownChangeKind, c.Kind)
		}
		if c.Identifier.IsZero() {
			return fmt.Errorf("change %d: missing identifier", i)
		}
		if c.Identifier.Provisional {
			return fmt.Errorf("change %d: provisional identifier %s", i, c.Identifier)
		}
	}
	return nil
}

// CloneTransaction deep-copies a transaction's change slice.
func CloneTransaction(tx Transaction) Transaction {
	tx.Changes = append([]Change(nil), tx.Changes...)
	return tx
}

// ScanMatches reports whether tx belongs in a ScanAfter(after, author) result.
// An empty author matches every transaction.
func ScanMatches(tx Transaction, after *HistoryToken, author string) bool {
	if after != nil && !tx.Token.After(*after) {
		return false
	}
	return author == "" || tx.Author == author
}
