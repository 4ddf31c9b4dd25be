package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func tripFixture(accommodation *Identifier) Trip {
	return Trip{
		Name:                "Yosemite",
		Destination:         "California",
		StartDate:           time.Date(2024, 7, 1, 9, 0, 0, 0, time.FixedZone("PDT", -7*3600)),
		EndDate:             time.Date(2024, 7, 5, 17, 0, 0, 0, time.UTC),
		LivingAccommodation: accommodation,
	}
}

func TestTripSnapshotRoundTrip(t *testing.T) {
	accID := NewPermanentIdentifier("trips_v1", EntityLivingAccommodation, "acc")
	itemID := NewPermanentIdentifier("trips_v1", EntityBucketListItem, "item")
	trip := tripFixture(&accID)
	trip.BucketList = []Identifier{itemID}
	id := NewPermanentIdentifier("trips_v1", EntityTrip, "trip")

	snap := ToSnapshot(trip, id)
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(snap) {
		t.Fatalf("snapshot changed across JSON: %s", raw)
	}
	entity, err := FromSnapshot(decoded)
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}
	got, ok := entity.(Trip)
	if !ok {
		t.Fatalf("expected Trip, got %T", entity)
	}
	if got.Name != trip.Name || !got.StartDate.Equal(trip.StartDate) || !got.EndDate.Equal(trip.EndDate) {
		t.Fatalf("unexpected trip %+v", got)
	}
	if got.LivingAccommodation == nil || *got.LivingAccommodation != accID {
		t.Fatalf("accommodation reference lost: %+v", got.LivingAccommodation)
	}
	if len(got.BucketList) != 1 || got.BucketList[0] != itemID {
		t.Fatalf("bucket list lost: %+v", got.BucketList)
	}
	if got.StartDate.Location() != time.UTC {
		t.Fatalf("expected UTC date, got %v", got.StartDate.Location())
	}
}

func TestLivingAccommodationDefaultsConfirmation(t *testing.T) {
	id := NewPermanentIdentifier("trips_v1", EntityLivingAccommodation, "acc")
	snap := NewSnapshot(id, map[string]Value{
		FieldAddress: StringValue("Yosemite National Park, CA 95389"),
		FieldName:    StringValue("Yosemite"),
	})
	acc, err := DecodeLivingAccommodation(snap)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acc.IsConfirmed || acc.Trip != nil {
		t.Fatalf("unexpected defaults %+v", acc)
	}
}

func TestDecodeErrors(t *testing.T) {
	id := NewPermanentIdentifier("trips_v1", EntityTrip, "t")
	cases := map[string]Snapshot{
		"missing name": NewSnapshot(id, map[string]Value{
			FieldDestination: StringValue("x"),
			FieldStartDate:   DateValue(time.Now()),
			FieldEndDate:     DateValue(time.Now()),
		}),
		"wrong kind": NewSnapshot(id, map[string]Value{
			FieldName:        IntValue(4),
			FieldDestination: StringValue("x"),
			FieldStartDate:   DateValue(time.Now()),
			FieldEndDate:     DateValue(time.Now()),
		}),
		"missing date": NewSnapshot(id, map[string]Value{
			FieldName:        StringValue("n"),
			FieldDestination: StringValue("x"),
			FieldStartDate:   DateValue(time.Now()),
		}),
		"unknown entity": NewSnapshot(NewPermanentIdentifier("trips_v1", "Hotel", "h"), nil),
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromSnapshot(snap)
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("expected decode error, got %v", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) || de.Identifier != snap.Identifier() {
				t.Fatalf("expected DecodeError for %s, got %#v", snap.Identifier(), err)
			}
		})
	}
}

func TestDecodeRejectsMismatchedEntity(t *testing.T) {
	snap := ToSnapshot(LivingAccommodation{Name: "n", Address: "a"}, NewPermanentIdentifier("s", EntityLivingAccommodation, "a"))
	if _, err := DecodeTrip(snap); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRemapReferences(t *testing.T) {
	provisional := NewProvisionalIdentifier(EntityLivingAccommodation)
	permanent := NewPermanentIdentifier("trips_v1", EntityLivingAccommodation, "acc")
	otherItem := NewPermanentIdentifier("trips_v1", EntityBucketListItem, "keep")
	newItem := NewProvisionalIdentifier(EntityBucketListItem)
	newItemPermanent := NewPermanentIdentifier("trips_v1", EntityBucketListItem, "new")

	trip := tripFixture(&provisional)
	trip.BucketList = []Identifier{otherItem, newItem}
	tripID := NewPermanentIdentifier("trips_v1", EntityTrip, "t")
	snap := ToSnapshot(trip, tripID)

	remapped := RemapReferences(snap, map[Identifier]Identifier{provisional: permanent, newItem: newItemPermanent})
	decoded, err := DecodeTrip(remapped)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded.LivingAccommodation != permanent {
		t.Fatalf("reference not remapped: %s", decoded.LivingAccommodation)
	}
	if decoded.BucketList[0] != otherItem || decoded.BucketList[1] != newItemPermanent {
		t.Fatalf("reference list not remapped: %v", decoded.BucketList)
	}
	if name, _ := remapped.Field(FieldName); !name.Equal(StringValue("Yosemite")) {
		t.Fatalf("non-reference field changed: %+v", name)
	}
	if original, _ := snap.Field(FieldLivingAccommodation); !original.Equal(ReferenceValue(&provisional)) {
		t.Fatalf("source snapshot mutated")
	}
	if got := RemapReferences(snap, nil); !got.Equal(snap) {
		t.Fatalf("empty mapping must be identity")
	}
}

func TestSnapshotImmutability(t *testing.T) {
	id := NewPermanentIdentifier("s", EntityBucketListItem, "b")
	ref := NewPermanentIdentifier("s", EntityTrip, "t")
	fields := map[string]Value{FieldTitle: StringValue("Hike")}
	snap := NewSnapshot(id, fields)
	fields[FieldTitle] = StringValue("mutated")
	if v, _ := snap.Field(FieldTitle); !v.Equal(StringValue("Hike")) {
		t.Fatalf("snapshot shares caller map")
	}
	out := snap.Fields()
	out[FieldTitle] = StringValue("mutated")
	if v, _ := snap.Field(FieldTitle); !v.Equal(StringValue("Hike")) {
		t.Fatalf("snapshot exposes internal map")
	}
	next := snap.WithField(FieldTrip, ReferenceValue(&ref))
	if _, ok := snap.Field(FieldTrip); ok {
		t.Fatalf("WithField mutated receiver")
	}
	if refs := next.References(); len(refs) != 1 || refs[0] != ref {
		t.Fatalf("unexpected references %v", refs)
	}
}

func TestSnapshotUnmarshalRejectsEntityMismatch(t *testing.T) {
	raw := `{"entity":"Trip","fields":{},"identifier":"x-perm://s/LivingAccommodation/a"}`
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestValueJSONForms(t *testing.T) {
	ref := NewPermanentIdentifier("s", EntityTrip, "t")
	cases := []Value{
		Null(),
		StringValue("x"),
		BoolValue(true),
		IntValue(-3),
		FloatValue(1.5),
		DateValue(time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)),
		ReferenceValue(&ref),
		ReferencesValue(nil),
		ReferencesValue([]Identifier{ref}),
	}
	for _, v := range cases {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", v.Kind(), err)
		}
		var got Value
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !got.Equal(v) {
			t.Fatalf("value %s changed: %s", v.Kind(), raw)
		}
	}
	var bad Value
	if err := json.Unmarshal([]byte(`{"type":"blob","value":1}`), &bad); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
