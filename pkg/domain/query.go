package domain

import (
	"sort"
	"strings"
)

// Predicate selects snapshots during in-memory filtering.
type Predicate func(Snapshot) bool

// SortKey orders snapshots by one field.
type SortKey struct {
	Field      string
	Descending bool
}

// FetchRequest asks a store for every snapshot of one entity kind. Predicate
// and SortBy exist so callers can express intent, but the JSON document store
// rejects both; apply them with FilterSnapshots and SortSnapshots instead.
type FetchRequest struct {
	Entity    EntityName
	Predicate Predicate
	SortBy    []SortKey
}

// FetchResult carries the matched rows plus every snapshot loaded alongside
// them so relationships can be resolved without another read.
type FetchResult struct {
	Snapshots []Snapshot
	Related   Document
}

// FilterSnapshots returns the snapshots matching p, preserving order.
func FilterSnapshots(in []Snapshot, p Predicate) []Snapshot {
	if p == nil {
		return append([]Snapshot(nil), in...)
	}
	out := make([]Snapshot, 0, len(in))
	for _, s := range in {
		if p(s) {
			out = append(out, s)
		}
	}
	return out
}

// SortSnapshots orders snapshots in place by the given keys. Ties fall back to
// identifier order so results are deterministic.
func SortSnapshots(in []Snapshot, keys ...SortKey) {
	sort.SliceStable(in, func(i, j int) bool {
		for _, key := range keys {
			c := compareValues(fieldOrNull(in[i], key.Field), fieldOrNull(in[j], key.Field))
			if c == 0 {
				continue
			}
			if key.Descending {
				return c > 0
			}
			return c < 0
		}
		return in[i].Identifier().String() < in[j].Identifier().String()
	})
}

// FieldEquals builds a predicate matching snapshots whose field equals v.
func FieldEquals(field string, v Value) Predicate {
	return func(s Snapshot) bool {
		got, ok := s.Field(field)
		return ok && got.Equal(v)
	}
}

// ReferencesIdentifier builds a predicate matching snapshots whose field
// points at id, either directly or within a reference list.
func ReferencesIdentifier(field string, id Identifier) Predicate {
	return func(s Snapshot) bool {
		got, ok := s.Field(field)
		if !ok {
			return false
		}
		if ref, ok := got.AsReference(); ok {
			return ref == id
		}
		if refs, ok := got.AsReferences(); ok {
			for _, ref := range refs {
				if ref == id {
					return true
				}
			}
		}
		return false
	}
}

func fieldOrNull(s Snapshot, name string) Value {
	if v, ok := s.Field(name); ok {
		return v
	}
	return Null()
}

// compareValues orders nulls first, then by payload within a kind, then by
// kind name across kinds.
func compareValues(a, b Value) int {
	if a.Kind() != b.Kind() {
		if a.IsNull() {
			return -1
		}
		if b.IsNull() {
			return 1
		}
		return strings.Compare(string(a.Kind()), string(b.Kind()))
	}
	switch a.Kind() {
	case KindString:
		return strings.Compare(a.str, b.str)
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindInt:
		return cmpOrdered(a.i, b.i)
	case KindFloat:
		return cmpOrdered(a.f, b.f)
	case KindDate:
		return a.t.Compare(b.t)
	case KindReference:
		return strings.Compare(a.ref.String(), b.ref.String())
	}
	return 0
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
