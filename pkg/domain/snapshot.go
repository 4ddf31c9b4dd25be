package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is the immutable serialized form of one entity version. Methods
// that "modify" a snapshot return a new value; the field map is never shared.
type Snapshot struct {
	id     Identifier
	entity EntityName
	fields map[string]Value
}

// NewSnapshot builds a snapshot for id. The entity tag is taken from the
// identifier and the field map is copied.
func NewSnapshot(id Identifier, fields map[string]Value) Snapshot {
	return Snapshot{id: id, entity: id.Entity, fields: cloneFields(fields)}
}

// Identifier returns the snapshot's identifier.
func (s Snapshot) Identifier() Identifier { return s.id }

// Entity returns the entity kind tag.
func (s Snapshot) Entity() EntityName { return s.entity }

// Field returns one field value.
func (s Snapshot) Field(name string) (Value, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// Fields returns a copy of all fields.
func (s Snapshot) Fields() map[string]Value { return cloneFields(s.fields) }

// FieldNames returns the field names in sorted order.
func (s Snapshot) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithIdentifier returns a copy of the snapshot stamped with id.
func (s Snapshot) WithIdentifier(id Identifier) Snapshot {
	return Snapshot{id: id, entity: id.Entity, fields: cloneFields(s.fields)}
}

// WithField returns a copy of the snapshot with one field replaced.
func (s Snapshot) WithField(name string, v Value) Snapshot {
	fields := cloneFields(s.fields)
	fields[name] = v
	return Snapshot{id: s.id, entity: s.entity, fields: fields}
}

// References returns every identifier referenced by the snapshot's fields.
func (s Snapshot) References() []Identifier {
	var out []Identifier
	for _, name := range s.FieldNames() {
		v := s.fields[name]
		if ref, ok := v.AsReference(); ok {
			out = append(out, ref)
		}
		if refs, ok := v.AsReferences(); ok {
			out = append(out, refs...)
		}
	}
	return out
}

// Equal reports whether both snapshots carry the same identifier and fields.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.id != o.id || s.entity != o.entity || len(s.fields) != len(o.fields) {
		return false
	}
	for name, v := range s.fields {
		ov, ok := o.fields[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func cloneFields(in map[string]Value) map[string]Value {
	out := make(map[string]Value, len(in))
	for k, v := range in {
		if refs, ok := v.AsReferences(); ok {
			v = ReferencesValue(refs)
		}
		out[k] = v
	}
	return out
}

// snapshotRecord is the on-disk layout of one snapshot. Field order is
// alphabetical so encoded documents diff cleanly.
type snapshotRecord struct {
	Entity     EntityName       `json:"entity"`
	Fields     map[string]Value `json:"fields"`
	Identifier Identifier       `json:"identifier"`
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	fields := s.fields
	if fields == nil {
		fields = map[string]Value{}
	}
	return json.Marshal(snapshotRecord{Entity: s.entity, Fields: fields, Identifier: s.id})
}

// UnmarshalJSON implements json.Unmarshaler. The entity tag must agree with
// the identifier.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Identifier.IsZero() {
		return fmt.Errorf("snapshot without identifier")
	}
	if rec.Entity != rec.Identifier.Entity {
		return fmt.Errorf("snapshot entity %q does not match identifier %s", rec.Entity, rec.Identifier)
	}
	*s = Snapshot{id: rec.Identifier, entity: rec.Entity, fields: cloneFields(rec.Fields)}
	return nil
}

// Document is the durable state of one container: the latest snapshot of
// every live entity keyed by identifier.
type Document map[Identifier]Snapshot

// Clone returns a shallow copy of the document map.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for id, snap := range d {
		out[id] = snap
	}
	return out
}

// Snapshots returns the document's snapshots ordered by identifier token.
func (d Document) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(d))
	for _, snap := range d {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out
}
