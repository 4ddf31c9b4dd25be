package jsonstore

import (
	"context"
	"fmt"

	"tripstore/pkg/domain"
)

// SaveRequest is one batch of changes. Inserted snapshots must carry
// provisional identifiers. Updated and deleted snapshots may name an entity
// inserted earlier in the same batch by its provisional identifier.
type SaveRequest struct {
	Author   string
	Inserted []domain.Snapshot
	Updated  []domain.Snapshot
	Deleted  []domain.Snapshot
}

// IsEmpty reports whether the batch carries no changes.
func (r SaveRequest) IsEmpty() bool {
	return len(r.Inserted) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0
}

// SaveResult reports the provisional→permanent identifier mapping minted by
// a save and, when a history log is configured, the recorded transaction.
type SaveResult struct {
	IdentifierMapping map[domain.Identifier]domain.Identifier
	Transaction       *domain.Transaction
}

// Save applies the batch to the document and writes it back.
//
// Inserts are stored under freshly minted permanent identifiers, updates
// overwrite by identifier and deletes remove the entry. Afterwards every
// surviving snapshot has its references rewritten through the mapping so no
// provisional identifier outlives the save. Validation happens before the
// write, so a rejected batch leaves the document untouched.
//
// The history append runs after the document write commits. If it fails the
// error is returned alongside the mapping, since the document already holds
// the new identifiers.
func (s *Store) Save(ctx context.Context, req SaveRequest) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	if req.IsEmpty() {
		return SaveResult{IdentifierMapping: map[domain.Identifier]domain.Identifier{}}, nil
	}
	return s.Update(ctx, func(domain.Document) (SaveRequest, error) { return req, nil })
}

// Update reads the document, hands a copy to build and saves the batch build
// returns. The store lock is held from the read through the history append,
// so read-modify-write edits through one Store never interleave. An error from
// build aborts without writing; an empty batch writes nothing.
func (s *Store) Update(ctx context.Context, build func(domain.Document) (SaveRequest, error)) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	req, err := build(doc.Clone())
	if err != nil {
		return SaveResult{}, err
	}
	return s.apply(ctx, doc, req)
}

// apply runs with s.mu held.
func (s *Store) apply(ctx context.Context, doc domain.Document, req SaveRequest) (SaveResult, error) {
	result := SaveResult{IdentifierMapping: map[domain.Identifier]domain.Identifier{}}
	if req.IsEmpty() {
		return result, nil
	}
	mapping := result.IdentifierMapping
	var changes []domain.Change
	touched := map[domain.Identifier]struct{}{}

	for _, snap := range req.Inserted {
		id := snap.Identifier()
		if !id.Provisional {
			return SaveResult{}, fmt.Errorf("save: inserted snapshot %s is not provisional", id)
		}
		if _, dup := mapping[id]; dup {
			return SaveResult{}, fmt.Errorf("save: %s inserted twice", id)
		}
		perm := domain.NewPermanentIdentifier(s.cfg.Name, id.Entity, s.mint())
		mapping[id] = perm
		doc[perm] = snap.WithIdentifier(perm)
		touched[perm] = struct{}{}
		changes = append(changes, domain.NewChange(domain.ChangeInsert, perm))
	}
	for _, snap := range req.Updated {
		id, err := resolve(snap.Identifier(), mapping)
		if err != nil {
			return SaveResult{}, fmt.Errorf("save update: %w", err)
		}
		if _, ok := doc[id]; !ok {
			s.logger.Debug("update of absent snapshot stored as new entry", "identifier", id.String())
		}
		doc[id] = snap.WithIdentifier(id)
		touched[id] = struct{}{}
		changes = append(changes, domain.NewChange(domain.ChangeUpdate, id))
	}
	for _, snap := range req.Deleted {
		id, err := resolve(snap.Identifier(), mapping)
		if err != nil {
			return SaveResult{}, fmt.Errorf("save delete: %w", err)
		}
		delete(doc, id)
		changes = append(changes, domain.NewChange(domain.ChangeDelete, id))
	}
	if len(mapping) > 0 {
		for id, snap := range doc {
			doc[id] = domain.RemapReferences(snap, mapping)
		}
	}
	for id := range touched {
		snap, ok := doc[id]
		if !ok {
			continue
		}
		for _, ref := range snap.References() {
			if ref.Provisional {
				return SaveResult{}, fmt.Errorf("save: %s references unsaved %s", id, ref)
			}
		}
	}

	if err := s.write(ctx, doc); err != nil {
		return SaveResult{}, err
	}
	s.logger.Debug("document saved", "document", s.cfg.Key, "inserted", len(req.Inserted), "updated", len(req.Updated), "deleted", len(req.Deleted))

	if s.history == nil {
		return result, nil
	}
	author := req.Author
	if author == "" {
		author = domain.AuthorApp
	}
	tx, err := s.history.Append(ctx, author, changes)
	if err != nil {
		s.logger.Error("history append failed after document write", "document", s.cfg.Key, "error", err)
		return result, fmt.Errorf("save: document written, history append failed: %w", err)
	}
	result.Transaction = &tx
	return result, nil
}

// resolve maps an update/delete target to its stored identifier.
func resolve(id domain.Identifier, mapping map[domain.Identifier]domain.Identifier) (domain.Identifier, error) {
	if id.IsZero() {
		return id, fmt.Errorf("snapshot without identifier")
	}
	if !id.Provisional {
		return id, nil
	}
	perm, ok := mapping[id]
	if !ok {
		return id, fmt.Errorf("provisional %s was not inserted in this batch", id)
	}
	return perm, nil
}

// Fetch returns every snapshot of req.Entity, ordered by identifier token,
// plus the whole document as Related. Predicates and sort keys are refused
// with *domain.UnsupportedQueryError before anything is read; apply them with
// domain.FilterSnapshots and domain.SortSnapshots on the result instead.
func (s *Store) Fetch(ctx context.Context, req domain.FetchRequest) (domain.FetchResult, error) {
	if req.Predicate != nil {
		return domain.FetchResult{}, &domain.UnsupportedQueryError{Capability: domain.CapabilityPredicate}
	}
	if len(req.SortBy) > 0 {
		return domain.FetchResult{}, &domain.UnsupportedQueryError{Capability: domain.CapabilitySort}
	}
	doc, err := s.load(ctx)
	if err != nil {
		return domain.FetchResult{}, err
	}
	rows := []domain.Snapshot{}
	for _, snap := range doc.Snapshots() {
		if req.Entity == "" || snap.Entity() == req.Entity {
			rows = append(rows, snap)
		}
	}
	return domain.FetchResult{Snapshots: rows, Related: doc}, nil
}
