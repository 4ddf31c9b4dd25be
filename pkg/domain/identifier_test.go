package domain

import (
	"encoding/json"
	"testing"
)

func TestIdentifierTokenRoundTrip(t *testing.T) {
	cases := []Identifier{
		NewPermanentIdentifier("trips_v1", EntityTrip, "6f1c"),
		NewProvisionalIdentifier(EntityLivingAccommodation),
	}
	for _, id := range cases {
		t.Run(id.String(), func(t *testing.T) {
			parsed, err := ParseIdentifier(id.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed != id {
				t.Fatalf("expected %+v, got %+v", id, parsed)
			}
		})
	}
}

func TestParseIdentifierRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{"", "trip/1", "x-perm://store/Trip", "x-temp://Trip", "x-perm:///Trip/1", "x-temp://Trip/"} {
		if _, err := ParseIdentifier(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}

func TestProvisionalIdentifiersAreUnique(t *testing.T) {
	seen := map[Identifier]struct{}{}
	for i := 0; i < 100; i++ {
		id := NewProvisionalIdentifier(EntityTrip)
		if !id.Provisional || id.Store != "" {
			t.Fatalf("unexpected provisional identifier %+v", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate provisional identifier %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestIdentifierJSONAsValueAndMapKey(t *testing.T) {
	id := NewPermanentIdentifier("trips_v1", EntityTrip, "a1")
	payload := map[Identifier][]Identifier{id: {id}}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"x-perm://trips_v1/Trip/a1":["x-perm://trips_v1/Trip/a1"]}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
	var decoded map[Identifier][]Identifier
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := decoded[id]; len(got) != 1 || got[0] != id {
		t.Fatalf("unexpected decoded payload %+v", decoded)
	}
}

func TestSortIdentifiers(t *testing.T) {
	a := NewPermanentIdentifier("s", EntityTrip, "a")
	b := NewPermanentIdentifier("s", EntityTrip, "b")
	ids := []Identifier{b, a}
	SortIdentifiers(ids)
	if ids[0] != a || ids[1] != b {
		t.Fatalf("unexpected order %v", ids)
	}
}
