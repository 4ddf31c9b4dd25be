// Package changefeed folds the transaction history into the set of trips a
// consumer has not seen yet.
//
// A Reducer keeps its own cursor in a preference store. Each call to
// ComputeChangedParents scans the transactions written after that cursor,
// maps every changed accommodation to the trip that owns it, advances the
// cursor past the last scanned transaction and merges the result into the
// persisted unread list.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tripstore/pkg/domain"
)

// Logger is the structured logging surface the reducer writes to.
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

// DocumentReader reads the current document, optionally filtered by entity.
type DocumentReader interface {
	Read(ctx context.Context, entity domain.EntityName) (domain.Document, error)
}

// Relation names a parent/child containment: Parent.Field references Child.
type Relation struct {
	Parent domain.EntityName
	Child  domain.EntityName
	Field  string
}

// TripAccommodation is the relation the widget tracks.
var TripAccommodation = Relation{
	Parent: domain.EntityTrip,
	Child:  domain.EntityLivingAccommodation,
	Field:  domain.FieldLivingAccommodation,
}

// ChangeSet is the outcome of one scan.
type ChangeSet struct {
	// Parents touched by a live insert or update, sorted by token.
	Parents []domain.Identifier
	// Removed lists parents whose last change in the window was a delete.
	Removed []domain.Identifier
	// Cursor is the cursor after the scan; nil when nothing has ever been scanned.
	Cursor *domain.HistoryToken
	// Scanned counts the transactions read.
	Scanned int
}

// Empty reports whether the scan affected no parent.
func (c ChangeSet) Empty() bool { return len(c.Parents) == 0 && len(c.Removed) == 0 }

// Option customises a Reducer.
type Option func(*Reducer)

// WithLogger installs a logger.
func WithLogger(l Logger) Option {
	return func(r *Reducer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuthor changes the author whose transactions are scanned.
func WithAuthor(author string) Option {
	return func(r *Reducer) { r.author = author }
}

// WithRelation changes the tracked containment.
func WithRelation(rel Relation) Option {
	return func(r *Reducer) { r.relation = rel }
}

// Reducer derives changed parents from the history log.
type Reducer struct {
	docs     DocumentReader
	log      domain.HistoryLog
	prefs    domain.PreferenceStore
	relation Relation
	author   string
	logger   Logger
}

// New constructs a reducer over the given document, log and preferences.
func New(docs DocumentReader, log domain.HistoryLog, prefs domain.PreferenceStore, opts ...Option) (*Reducer, error) {
	if docs == nil || log == nil || prefs == nil {
		return nil, errors.New("changefeed: document reader, history log and preference store are required")
	}
	r := &Reducer{
		docs:     docs,
		log:      log,
		prefs:    prefs,
		relation: TripAccommodation,
		author:   domain.AuthorWidget,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Cursor returns the persisted cursor; absent or undecodable bytes yield nil.
func (r *Reducer) Cursor(ctx context.Context) *domain.HistoryToken {
	raw, ok, err := r.prefs.Data(ctx, domain.PreferenceHistoryToken)
	if err != nil {
		r.logger.Warn("history cursor unreadable, rescanning", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var token domain.HistoryToken
	if err := json.Unmarshal(raw, &token); err != nil {
		r.logger.Warn("history cursor undecodable, rescanning", "error", err)
		return nil
	}
	return &token
}

// ComputeChangedParents scans the history after the persisted cursor. On a
// non-empty scan it persists the new cursor first and then the merged unread
// list. A history or document read failure is logged and treated as an empty
// scan; only persistence failures are returned.
func (r *Reducer) ComputeChangedParents(ctx context.Context) (ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return ChangeSet{}, err
	}
	cursor := r.Cursor(ctx)
	txs, err := r.log.ScanAfter(ctx, cursor, r.author)
	if err != nil {
		r.logger.Error("history scan failed", "error", err)
		txs = nil
	}
	if len(txs) == 0 {
		return ChangeSet{Cursor: cursor}, nil
	}
	index, err := r.containment(ctx)
	if err != nil {
		r.logger.Error("containment index unavailable", "error", err)
		return ChangeSet{Cursor: cursor}, nil
	}
	f := &fold{relation: r.relation, index: index, seen: map[domain.Identifier]domain.Identifier{}, state: map[domain.Identifier]bool{}}
	for _, tx := range txs {
		for _, c := range tx.Changes {
			if err := c.Accept(f); err != nil {
				r.logger.Warn("skipping change", "token", tx.Token.Sequence, "error", err)
			}
		}
	}
	next := txs[len(txs)-1].Token
	set := ChangeSet{Cursor: &next, Scanned: len(txs)}
	for parent, live := range f.state {
		if live {
			set.Parents = append(set.Parents, parent)
		} else {
			set.Removed = append(set.Removed, parent)
		}
	}
	domain.SortIdentifiers(set.Parents)
	domain.SortIdentifiers(set.Removed)

	raw, err := json.Marshal(next)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("encode cursor: %w", err)
	}
	if err := r.prefs.SetData(ctx, domain.PreferenceHistoryToken, raw); err != nil {
		return ChangeSet{}, fmt.Errorf("persist cursor: %w", err)
	}
	if err := r.merge(ctx, set); err != nil {
		return set, err
	}
	r.logger.Debug("history scanned", "transactions", set.Scanned, "parents", len(set.Parents), "removed", len(set.Removed), "cursor", next.Sequence)
	return set, nil
}

// containment maps each child identifier to the parent that currently holds it.
func (r *Reducer) containment(ctx context.Context) (map[domain.Identifier]domain.Identifier, error) {
	doc, err := r.docs.Read(ctx, r.relation.Parent)
	if err != nil {
		return nil, err
	}
	index := make(map[domain.Identifier]domain.Identifier, len(doc))
	for id, snap := range doc {
		v, ok := snap.Field(r.relation.Field)
		if !ok {
			continue
		}
		if child, ok := v.AsReference(); ok {
			index[child] = id
		}
	}
	return index, nil
}

func (r *Reducer) merge(ctx context.Context, set ChangeSet) error {
	previous, err := r.UnreadIdentifiers(ctx)
	if err != nil {
		return err
	}
	unread := make(map[domain.Identifier]struct{}, len(previous)+len(set.Parents))
	for _, id := range previous {
		unread[id] = struct{}{}
	}
	for _, id := range set.Parents {
		unread[id] = struct{}{}
	}
	for _, id := range set.Removed {
		delete(unread, id)
	}
	out := make([]domain.Identifier, 0, len(unread))
	for id := range unread {
		out = append(out, id)
	}
	return r.SetUnreadIdentifiers(ctx, out)
}

// UnreadIdentifiers returns the persisted unread list. Absent or undecodable
// bytes yield an empty list; a store failure is returned.
func (r *Reducer) UnreadIdentifiers(ctx context.Context) ([]domain.Identifier, error) {
	raw, ok, err := r.prefs.Data(ctx, domain.PreferenceUnreadTripIdentifiers)
	if err != nil {
		return nil, fmt.Errorf("read unread identifiers: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []domain.Identifier
	if err := json.Unmarshal(raw, &ids); err != nil {
		r.logger.Warn("unread identifiers undecodable, treating as empty", "error", err)
		return nil, nil
	}
	return ids, nil
}

// SetUnreadIdentifiers replaces the persisted unread list, sorted by token.
func (r *Reducer) SetUnreadIdentifiers(ctx context.Context, ids []domain.Identifier) error {
	sorted := append([]domain.Identifier{}, ids...)
	domain.SortIdentifiers(sorted)
	raw, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode unread identifiers: %w", err)
	}
	if err := r.prefs.SetData(ctx, domain.PreferenceUnreadTripIdentifiers, raw); err != nil {
		return fmt.Errorf("persist unread identifiers: %w", err)
	}
	return nil
}

// MarkRead drops ids from the unread list. It reports whether the list changed.
func (r *Reducer) MarkRead(ctx context.Context, ids ...domain.Identifier) (bool, error) {
	current, err := r.UnreadIdentifiers(ctx)
	if err != nil {
		return false, err
	}
	drop := make(map[domain.Identifier]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := current[:0:0]
	for _, id := range current {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(current) {
		return false, nil
	}
	return true, r.SetUnreadIdentifiers(ctx, kept)
}

// fold applies change records to the per-parent state. state[p] is true when
// p's last relevant change was an insert or update and false after a delete.
type fold struct {
	relation Relation
	index    map[domain.Identifier]domain.Identifier
	// seen remembers the parent a child resolved to earlier in the scan, so a
	// delete still finds it after the link is gone from the document.
	seen  map[domain.Identifier]domain.Identifier
	state map[domain.Identifier]bool
}

var _ domain.ChangeVisitor = (*fold)(nil)

func (f *fold) parent(c domain.Change) (domain.Identifier, bool) {
	if c.Entity != f.relation.Child {
		return domain.Identifier{}, false
	}
	if p, ok := f.index[c.Identifier]; ok {
		f.seen[c.Identifier] = p
		return p, true
	}
	p, ok := f.seen[c.Identifier]
	return p, ok
}

func (f *fold) VisitInsert(c domain.Change) { f.touch(c) }
func (f *fold) VisitUpdate(c domain.Change) { f.touch(c) }

func (f *fold) VisitDelete(c domain.Change) {
	if p, ok := f.parent(c); ok {
		f.state[p] = false
	}
}

func (f *fold) touch(c domain.Change) {
	if p, ok := f.parent(c); ok {
		f.state[p] = true
	}
}
