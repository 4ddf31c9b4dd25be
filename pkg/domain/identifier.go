package domain

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntityName tags the kind of record a snapshot or identifier refers to.
type EntityName string

// Entity kinds persisted by the trip store.
const (
	// EntityTrip identifies a trip record.
	EntityTrip EntityName = "Trip"
	// EntityLivingAccommodation identifies the accommodation booked for a trip.
	EntityLivingAccommodation EntityName = "LivingAccommodation"
	// EntityBucketListItem identifies an activity on a trip's bucket list.
	EntityBucketListItem EntityName = "BucketListItem"
)

const (
	permanentScheme   = "x-perm://"
	provisionalScheme = "x-temp://"
)

// Identifier names one entity within one store. Provisional identifiers are
// minted by clients before the first save and carry no store; the document
// store replaces them with permanent ones on insert.
//
// Identifier is comparable and is used directly as a map key.
type Identifier struct {
	Store       string
	Entity      EntityName
	PrimaryKey  string
	Provisional bool
}

// NewProvisionalIdentifier mints a client-side placeholder for an entity that
// has not been saved yet.
func NewProvisionalIdentifier(entity EntityName) Identifier {
	key := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return Identifier{Entity: entity, PrimaryKey: key.String(), Provisional: true}
}

// NewPermanentIdentifier builds a store-assigned identifier.
func NewPermanentIdentifier(store string, entity EntityName, primaryKey string) Identifier {
	return Identifier{Store: store, Entity: entity, PrimaryKey: primaryKey}
}

// IsZero reports whether the identifier is unset.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// String renders the compact token form of the identifier.
func (id Identifier) String() string {
	if id.IsZero() {
		return ""
	}
	if id.Provisional {
		return provisionalScheme + string(id.Entity) + "/" + id.PrimaryKey
	}
	return permanentScheme + id.Store + "/" + string(id.Entity) + "/" + id.PrimaryKey
}

// ParseIdentifier decodes a token produced by Identifier.String.
func ParseIdentifier(token string) (Identifier, error) {
	switch {
	case strings.HasPrefix(token, provisionalScheme):
		parts := strings.Split(strings.TrimPrefix(token, provisionalScheme), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Identifier{}, fmt.Errorf("malformed provisional identifier %q", token)
		}
		return Identifier{Entity: EntityName(parts[0]), PrimaryKey: parts[1], Provisional: true}, nil
	case strings.HasPrefix(token, permanentScheme):
		parts := strings.Split(strings.TrimPrefix(token, permanentScheme), "/")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Identifier{}, fmt.Errorf("malformed identifier %q", token)
		}
		return Identifier{Store: parts[0], Entity: EntityName(parts[1]), PrimaryKey: parts[2]}, nil
	default:
		return Identifier{}, fmt.Errorf("unknown identifier scheme in %q", token)
	}
}

// MarshalText implements encoding.TextMarshaler so identifiers serialize as
// tokens both as JSON values and as JSON object keys.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortIdentifiers orders identifiers by token for deterministic output.
func SortIdentifiers(ids []Identifier) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
