// Package core exposes the trip editing and unread-tracking operations the app
// and widget processes share. A Service is an explicit context object: it owns
// the document store, the change reducer and the reload notifier, and wraps
// every operation with logging, metrics, tracing and audit hooks.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripstore/internal/changefeed"
	"tripstore/internal/infra/persistence/jsonstore"
	"tripstore/pkg/domain"
)

// ErrReducerNotConfigured is returned by unread operations on a service built
// without WithReducer.
var ErrReducerNotConfigured = errors.New("core: change reducer not configured")

// Operation names reported to loggers, metrics, tracers and audit recorders.
const (
	opListTrips                 = "list_trips"
	opGetTrip                   = "get_trip"
	opCreateTrip                = "create_trip"
	opUpdateTrip                = "update_trip"
	opDeleteTrip                = "delete_trip"
	opSaveLivingAccommodation   = "save_living_accommodation"
	opDeleteLivingAccommodation = "delete_living_accommodation"
	opAddBucketListItem         = "add_bucket_list_item"
	opQuery                     = "query"
	opRefreshUnread             = "refresh_unread"
	opUnreadTrips               = "unread_trips"
	opMarkTripsRead             = "mark_trips_read"
)

// DocumentStore is the persistence surface the service edits through.
// *jsonstore.Store implements it.
type DocumentStore interface {
	Read(ctx context.Context, entity domain.EntityName) (domain.Document, error)
	Save(ctx context.Context, req jsonstore.SaveRequest) (jsonstore.SaveResult, error)
	Update(ctx context.Context, build func(domain.Document) (jsonstore.SaveRequest, error)) (jsonstore.SaveResult, error)
	Fetch(ctx context.Context, req domain.FetchRequest) (domain.FetchResult, error)
}

// Option customises a Service.
type Option func(*Service)

// WithLogger installs a logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for timing and audit timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder installs an audit recorder for editing operations.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithReloadNotifier installs the widget reload signal.
func WithReloadNotifier(n domain.ReloadNotifier) Option {
	return func(s *Service) {
		if n != nil {
			s.reload = n
		}
	}
}

// WithReducer enables the unread operations.
func WithReducer(r *changefeed.Reducer) Option {
	return func(s *Service) { s.reducer = r }
}

// WithAuthor tags the transactions this service writes. Default domain.AuthorApp.
func WithAuthor(author string) Option {
	return func(s *Service) {
		if author != "" {
			s.author = author
		}
	}
}

// Service coordinates document edits, history and the widget signal.
type Service struct {
	store   DocumentStore
	reducer *changefeed.Reducer
	reload  domain.ReloadNotifier
	author  string

	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// NewService constructs a service over store.
func NewService(store DocumentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		reload:  domain.ReloadNotifierFunc(func(string) {}),
		author:  domain.AuthorApp,
		logger:  noopLogger{},
		clock:   systemClock{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Author returns the transaction author of this service.
func (s *Service) Author() string { return s.author }

// run wraps fn with tracing, timing, metrics, logging and audit. fn returns
// the identifier it acted on, if any.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	if s.store == nil {
		return errors.New("core: service has no document store")
	}
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "duration", duration)
	}
	s.recordAudit(ctx, op, entityID, duration, err)
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now().UTC(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// save commits req under the service author and signals the widget once the
// document is written, even when the history append afterwards failed.
func (s *Service) save(ctx context.Context, req jsonstore.SaveRequest) (jsonstore.SaveResult, error) {
	return s.update(ctx, func(domain.Document) (jsonstore.SaveRequest, error) { return req, nil })
}

// update is save for batches derived from the current document. The store
// holds its lock across the read and the write.
func (s *Service) update(ctx context.Context, build func(domain.Document) (jsonstore.SaveRequest, error)) (jsonstore.SaveResult, error) {
	var pending bool
	res, err := s.store.Update(ctx, func(doc domain.Document) (jsonstore.SaveRequest, error) {
		req, err := build(doc)
		req.Author = s.author
		pending = err == nil && !req.IsEmpty()
		return req, err
	})
	if pending && res.IdentifierMapping != nil {
		s.reload.ReloadTimelines(domain.WidgetKindTrips)
	}
	return res, err
}

// TripRecord is a decoded trip with its accommodation resolved.
type TripRecord struct {
	ID            domain.Identifier
	Trip          domain.Trip
	Accommodation *AccommodationRecord
}

// AccommodationRecord is a decoded living accommodation.
type AccommodationRecord struct {
	ID            domain.Identifier
	Accommodation domain.LivingAccommodation
}

// ListTrips returns every trip ordered by identifier token.
func (s *Service) ListTrips(ctx context.Context) ([]TripRecord, error) {
	var out []TripRecord
	err := s.run(ctx, opListTrips, func(ctx context.Context) (string, error) {
		res, err := s.store.Fetch(ctx, domain.FetchRequest{Entity: domain.EntityTrip})
		if err != nil {
			return "", err
		}
		for _, snap := range res.Snapshots {
			rec, err := tripRecord(res.Related, snap)
			if err != nil {
				s.logger.Warn("skipping undecodable trip", "identifier", snap.Identifier().String(), "error", err)
				continue
			}
			out = append(out, rec)
		}
		return "", nil
	})
	return out, err
}

// Trip returns one trip.
func (s *Service) Trip(ctx context.Context, id domain.Identifier) (TripRecord, error) {
	var out TripRecord
	err := s.run(ctx, opGetTrip, func(ctx context.Context) (string, error) {
		doc, err := s.store.Read(ctx, "")
		if err != nil {
			return id.String(), err
		}
		snap, ok := doc[id]
		if !ok || id.Entity != domain.EntityTrip {
			return id.String(), &domain.NotFoundError{Identifier: id}
		}
		out, err = tripRecord(doc, snap)
		return id.String(), err
	})
	return out, err
}

func tripRecord(doc domain.Document, snap domain.Snapshot) (TripRecord, error) {
	trip, err := domain.DecodeTrip(snap)
	if err != nil {
		return TripRecord{}, err
	}
	rec := TripRecord{ID: snap.Identifier(), Trip: trip}
	if trip.LivingAccommodation != nil {
		if accSnap, ok := doc[*trip.LivingAccommodation]; ok {
			if acc, err := domain.DecodeLivingAccommodation(accSnap); err == nil {
				rec.Accommodation = &AccommodationRecord{ID: accSnap.Identifier(), Accommodation: acc}
			}
		}
	}
	return rec, nil
}

// CreateTrip inserts trip and returns its permanent identifier.
func (s *Service) CreateTrip(ctx context.Context, trip domain.Trip) (domain.Identifier, error) {
	var created domain.Identifier
	err := s.run(ctx, opCreateTrip, func(ctx context.Context) (string, error) {
		prov := domain.NewProvisionalIdentifier(domain.EntityTrip)
		res, err := s.save(ctx, jsonstore.SaveRequest{Inserted: []domain.Snapshot{domain.ToSnapshot(trip, prov)}})
		created = res.IdentifierMapping[prov]
		return created.String(), err
	})
	return created, err
}

// UpdateTrip applies mutate to the stored trip and saves the result.
func (s *Service) UpdateTrip(ctx context.Context, id domain.Identifier, mutate func(*domain.Trip) error) (domain.Trip, error) {
	var updated domain.Trip
	err := s.run(ctx, opUpdateTrip, func(ctx context.Context) (string, error) {
		var trip domain.Trip
		_, err := s.update(ctx, func(doc domain.Document) (jsonstore.SaveRequest, error) {
			var err error
			if trip, err = tripIn(doc, id); err != nil {
				return jsonstore.SaveRequest{}, err
			}
			if err := mutate(&trip); err != nil {
				return jsonstore.SaveRequest{}, err
			}
			return jsonstore.SaveRequest{Updated: []domain.Snapshot{domain.ToSnapshot(trip, id)}}, nil
		})
		if err != nil {
			return id.String(), err
		}
		updated = trip
		return id.String(), nil
	})
	return updated, err
}

// DeleteTrip removes the trip together with its accommodation and bucket list.
func (s *Service) DeleteTrip(ctx context.Context, id domain.Identifier) error {
	return s.run(ctx, opDeleteTrip, func(ctx context.Context) (string, error) {
		_, err := s.update(ctx, func(doc domain.Document) (jsonstore.SaveRequest, error) {
			trip, err := tripIn(doc, id)
			if err != nil {
				return jsonstore.SaveRequest{}, err
			}
			req := jsonstore.SaveRequest{Deleted: []domain.Snapshot{doc[id]}}
			children := append([]domain.Identifier(nil), trip.BucketList...)
			if trip.LivingAccommodation != nil {
				children = append(children, *trip.LivingAccommodation)
			}
			for _, child := range children {
				if snap, ok := doc[child]; ok {
					req.Deleted = append(req.Deleted, snap)
				}
			}
			return req, nil
		})
		return id.String(), err
	})
}

// SaveLivingAccommodation edits the trip's accommodation in place, or creates
// one and links it to the trip when the trip has none. The link on both sides
// is maintained by the service.
func (s *Service) SaveLivingAccommodation(ctx context.Context, tripID domain.Identifier, acc domain.LivingAccommodation) (domain.Identifier, error) {
	var saved domain.Identifier
	err := s.run(ctx, opSaveLivingAccommodation, func(ctx context.Context) (string, error) {
		acc.Trip = &tripID
		var prov domain.Identifier
		res, err := s.update(ctx, func(doc domain.Document) (jsonstore.SaveRequest, error) {
			trip, err := tripIn(doc, tripID)
			if err != nil {
				return jsonstore.SaveRequest{}, err
			}
			if trip.LivingAccommodation != nil {
				if _, ok := doc[*trip.LivingAccommodation]; ok {
					saved = *trip.LivingAccommodation
					return jsonstore.SaveRequest{Updated: []domain.Snapshot{domain.ToSnapshot(acc, saved)}}, nil
				}
				s.logger.Warn("trip links a missing accommodation, creating a new one", "trip", tripID.String())
			}
			prov = domain.NewProvisionalIdentifier(domain.EntityLivingAccommodation)
			trip.LivingAccommodation = &prov
			return jsonstore.SaveRequest{
				Inserted: []domain.Snapshot{domain.ToSnapshot(acc, prov)},
				Updated:  []domain.Snapshot{domain.ToSnapshot(trip, tripID)},
			}, nil
		})
		if !prov.IsZero() {
			saved = res.IdentifierMapping[prov]
		}
		if err != nil {
			return tripID.String(), err
		}
		return saved.String(), nil
	})
	return saved, err
}

// DeleteLivingAccommodation removes the trip's accommodation and unlinks it.
// A trip without one is left untouched.
func (s *Service) DeleteLivingAccommodation(ctx context.Context, tripID domain.Identifier) error {
	return s.run(ctx, opDeleteLivingAccommodation, func(ctx context.Context) (string, error) {
		entityID := tripID.String()
		_, err := s.update(ctx, func(doc domain.Document) (jsonstore.SaveRequest, error) {
			trip, err := tripIn(doc, tripID)
			if err != nil || trip.LivingAccommodation == nil {
				return jsonstore.SaveRequest{}, err
			}
			accID := *trip.LivingAccommodation
			entityID = accID.String()
			trip.LivingAccommodation = nil
			req := jsonstore.SaveRequest{Updated: []domain.Snapshot{domain.ToSnapshot(trip, tripID)}}
			if snap, ok := doc[accID]; ok {
				req.Deleted = []domain.Snapshot{snap}
			}
			return req, nil
		})
		return entityID, err
	})
}

// AddBucketListItem creates item and appends it to the trip's bucket list.
func (s *Service) AddBucketListItem(ctx context.Context, tripID domain.Identifier, item domain.BucketListItem) (domain.Identifier, error) {
	var created domain.Identifier
	err := s.run(ctx, opAddBucketListItem, func(ctx context.Context) (string, error) {
		prov := domain.NewProvisionalIdentifier(domain.EntityBucketListItem)
		item.Trip = &tripID
		res, err := s.update(ctx, func(doc domain.Document) (jsonstore.SaveRequest, error) {
			trip, err := tripIn(doc, tripID)
			if err != nil {
				return jsonstore.SaveRequest{}, err
			}
			trip.BucketList = append(trip.BucketList, prov)
			return jsonstore.SaveRequest{
				Inserted: []domain.Snapshot{domain.ToSnapshot(item, prov)},
				Updated:  []domain.Snapshot{domain.ToSnapshot(trip, tripID)},
			}, nil
		})
		created = res.IdentifierMapping[prov]
		if err != nil && created.IsZero() {
			return tripID.String(), err
		}
		return created.String(), err
	})
	return created, err
}

// Query fetches every snapshot of entity and filters and sorts it in memory.
func (s *Service) Query(ctx context.Context, entity domain.EntityName, p domain.Predicate, sortBy ...domain.SortKey) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	err := s.run(ctx, opQuery, func(ctx context.Context) (string, error) {
		res, err := s.store.Fetch(ctx, domain.FetchRequest{Entity: entity})
		if err != nil {
			return "", err
		}
		out = domain.FilterSnapshots(res.Snapshots, p)
		domain.SortSnapshots(out, sortBy...)
		return "", nil
	})
	return out, err
}

func tripIn(doc domain.Document, id domain.Identifier) (domain.Trip, error) {
	if id.Entity != domain.EntityTrip {
		return domain.Trip{}, fmt.Errorf("%s is not a trip", id)
	}
	snap, ok := doc[id]
	if !ok {
		return domain.Trip{}, &domain.NotFoundError{Identifier: id}
	}
	return domain.DecodeTrip(snap)
}

// RefreshUnread scans the history for trips changed since the last scan and
// merges them into the persisted unread list.
func (s *Service) RefreshUnread(ctx context.Context) (changefeed.ChangeSet, error) {
	var set changefeed.ChangeSet
	err := s.run(ctx, opRefreshUnread, func(ctx context.Context) (string, error) {
		if s.reducer == nil {
			return "", ErrReducerNotConfigured
		}
		var err error
		set, err = s.reducer.ComputeChangedParents(ctx)
		return "", err
	})
	return set, err
}

// UnreadTrips returns the persisted unread trip identifiers.
func (s *Service) UnreadTrips(ctx context.Context) ([]domain.Identifier, error) {
	var ids []domain.Identifier
	err := s.run(ctx, opUnreadTrips, func(ctx context.Context) (string, error) {
		if s.reducer == nil {
			return "", ErrReducerNotConfigured
		}
		var err error
		ids, err = s.reducer.UnreadIdentifiers(ctx)
		return "", err
	})
	return ids, err
}

// MarkTripsRead removes ids from the unread list and signals the widget when
// the list changed.
func (s *Service) MarkTripsRead(ctx context.Context, ids ...domain.Identifier) error {
	return s.run(ctx, opMarkTripsRead, func(ctx context.Context) (string, error) {
		if s.reducer == nil {
			return "", ErrReducerNotConfigured
		}
		changed, err := s.reducer.MarkRead(ctx, ids...)
		if err == nil && changed {
			s.reload.ReloadTimelines(domain.WidgetKindTrips)
		}
		return "", err
	})
}
