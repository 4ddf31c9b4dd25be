package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFilterAndSortSnapshots(t *testing.T) {
	mk := func(key, name string, start time.Time) Snapshot {
		return ToSnapshot(Trip{Name: name, Destination: "d", StartDate: start, EndDate: start}, NewPermanentIdentifier("s", EntityTrip, key))
	}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		mk("c", "Oslo", base.AddDate(0, 0, 2)),
		mk("a", "Lima", base),
		mk("b", "Oslo", base.AddDate(0, 0, 1)),
	}

	oslo := FilterSnapshots(snaps, FieldEquals(FieldName, StringValue("Oslo")))
	if len(oslo) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(oslo))
	}
	if all := FilterSnapshots(snaps, nil); len(all) != 3 {
		t.Fatalf("nil predicate should keep everything")
	}

	SortSnapshots(snaps, SortKey{Field: FieldStartDate, Descending: true})
	if snaps[0].Identifier().PrimaryKey != "c" || snaps[2].Identifier().PrimaryKey != "a" {
		t.Fatalf("unexpected descending order %v", keys(snaps))
	}
	SortSnapshots(snaps, SortKey{Field: FieldName})
	if got := keys(snaps); got != "abc" {
		t.Fatalf("expected name then identifier order abc, got %s", got)
	}
}

func TestReferencesIdentifierPredicate(t *testing.T) {
	acc := NewPermanentIdentifier("s", EntityLivingAccommodation, "acc")
	item := NewPermanentIdentifier("s", EntityBucketListItem, "item")
	trip := tripFixture(&acc)
	trip.BucketList = []Identifier{item}
	snap := ToSnapshot(trip, NewPermanentIdentifier("s", EntityTrip, "t"))
	if !ReferencesIdentifier(FieldLivingAccommodation, acc)(snap) {
		t.Fatalf("expected to-one match")
	}
	if !ReferencesIdentifier(FieldBucketList, item)(snap) {
		t.Fatalf("expected to-many match")
	}
	if ReferencesIdentifier(FieldLivingAccommodation, item)(snap) || ReferencesIdentifier("missing", acc)(snap) {
		t.Fatalf("unexpected match")
	}
}

func keys(snaps []Snapshot) string {
	out := ""
	for _, s := range snaps {
		out += s.Identifier().PrimaryKey
	}
	return out
}

func TestQueryChangeKindText(t *testing.T) {
	id := NewPermanentIdentifier("s", EntityLivingAccommodation, "a")
	tx := Transaction{Token: HistoryToken{Sequence: 7}, Author: AuthorWidget, Changes: []Change{NewChange(ChangeDelete, id)}}
	raw, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Transaction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Changes[0] != tx.Changes[0] || decoded.Token != tx.Token {
		t.Fatalf("transaction changed across JSON: %s", raw)
	}

	bad := []byte(`{"kind":"upsert","identifier":"x-perm://s/Trip/1","entity":"Trip"}`)
	var c Change
	if err := json.Unmarshal(bad, &c); !errors.Is(err, ErrUnknownChangeKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if _, err := json.Marshal(Change{Kind: 9, Identifier: id}); err == nil {
		t.Fatalf("expected marshal error for invalid kind")
	}
}

type countingVisitor struct{ inserts, updates, deletes int }

func (v *countingVisitor) VisitInsert(Change) { v.inserts++ }
func (v *countingVisitor) VisitUpdate(Change) { v.updates++ }
func (v *countingVisitor) VisitDelete(Change) { v.deletes++ }

func TestQueryChangeAccept(t *testing.T) {
	id := NewPermanentIdentifier("s", EntityTrip, "t")
	v := &countingVisitor{}
	for _, kind := range []ChangeKind{ChangeInsert, ChangeUpdate, ChangeUpdate, ChangeDelete} {
		if err := NewChange(kind, id).Accept(v); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if v.inserts != 1 || v.updates != 2 || v.deletes != 1 {
		t.Fatalf("unexpected dispatch counts %+v", v)
	}
	if err := (Change{Kind: 0, Identifier: id}).Accept(v); !errors.Is(err, ErrUnknownChangeKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestQueryValidateChanges(t *testing.T) {
	perm := NewPermanentIdentifier("s", EntityTrip, "t")
	if err := ValidateChanges([]Change{NewChange(ChangeInsert, perm)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateChanges([]Change{NewChange(ChangeInsert, NewProvisionalIdentifier(EntityTrip))}); err == nil {
		t.Fatalf("expected provisional identifier to be rejected")
	}
	if err := ValidateChanges([]Change{{Kind: ChangeUpdate}}); err == nil {
		t.Fatalf("expected missing identifier to be rejected")
	}
	if err := ValidateChanges([]Change{{Kind: 42, Identifier: perm}}); !errors.Is(err, ErrUnknownChangeKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}
