package domain

import "time"

// Field names used in snapshots. They are part of the on-disk format.
const (
	FieldName                = "name"
	FieldDestination         = "destination"
	FieldStartDate           = "startDate"
	FieldEndDate             = "endDate"
	FieldLivingAccommodation = "livingAccommodation"
	FieldBucketList          = "bucketList"
	FieldAddress             = "address"
	FieldIsConfirmed         = "isConfirmed"
	FieldTrip                = "trip"
	FieldTitle               = "title"
	FieldDetails             = "details"
	FieldHasReservation      = "hasReservation"
	FieldIsInPlan            = "isInPlan"
)

// ToSnapshot stamps the entity's fields with id.
func ToSnapshot(e Entity, id Identifier) Snapshot {
	return NewSnapshot(id, e.SnapshotFields())
}

// FromSnapshot decodes a snapshot into its entity type.
func FromSnapshot(s Snapshot) (Entity, error) {
	switch s.Entity() {
	case EntityTrip:
		return DecodeTrip(s)
	case EntityLivingAccommodation:
		return DecodeLivingAccommodation(s)
	case EntityBucketListItem:
		return DecodeBucketListItem(s)
	default:
		return nil, &DecodeError{Identifier: s.Identifier(), Reason: "unknown entity " + string(s.Entity())}
	}
}

// RemapReferences rewrites every reference field whose identifier appears in
// mapping. Fields without references are left untouched.
func RemapReferences(s Snapshot, mapping map[Identifier]Identifier) Snapshot {
	if len(mapping) == 0 {
		return s
	}
	fields := make(map[string]Value, len(s.fields))
	for name, v := range s.fields {
		fields[name] = v.remap(mapping)
	}
	return Snapshot{id: s.id, entity: s.entity, fields: fields}
}

// SnapshotFields implements Entity.
func (t Trip) SnapshotFields() map[string]Value {
	return map[string]Value{
		FieldName:                StringValue(t.Name),
		FieldDestination:         StringValue(t.Destination),
		FieldStartDate:           DateValue(t.StartDate),
		FieldEndDate:             DateValue(t.EndDate),
		FieldLivingAccommodation: ReferenceValue(t.LivingAccommodation),
		FieldBucketList:          ReferencesValue(t.BucketList),
	}
}

// SnapshotFields implements Entity.
func (l LivingAccommodation) SnapshotFields() map[string]Value {
	return map[string]Value{
		FieldAddress:     StringValue(l.Address),
		FieldName:        StringValue(l.Name),
		FieldIsConfirmed: BoolValue(l.IsConfirmed),
		FieldTrip:        ReferenceValue(l.Trip),
	}
}

// SnapshotFields implements Entity.
func (b BucketListItem) SnapshotFields() map[string]Value {
	return map[string]Value{
		FieldTitle:          StringValue(b.Title),
		FieldDetails:        StringValue(b.Details),
		FieldHasReservation: BoolValue(b.HasReservation),
		FieldIsInPlan:       BoolValue(b.IsInPlan),
		FieldTrip:           ReferenceValue(b.Trip),
	}
}

// DecodeTrip decodes a Trip snapshot.
func DecodeTrip(s Snapshot) (Trip, error) {
	r := fieldReader{snap: s}
	if err := r.expect(EntityTrip); err != nil {
		return Trip{}, err
	}
	t := Trip{
		Name:                r.str(FieldName, true),
		Destination:         r.str(FieldDestination, true),
		StartDate:           r.date(FieldStartDate),
		EndDate:             r.date(FieldEndDate),
		LivingAccommodation: r.ref(FieldLivingAccommodation),
		BucketList:          r.refs(FieldBucketList),
	}
	if r.err != nil {
		return Trip{}, r.err
	}
	return t, nil
}

// DecodeLivingAccommodation decodes a LivingAccommodation snapshot.
func DecodeLivingAccommodation(s Snapshot) (LivingAccommodation, error) {
	r := fieldReader{snap: s}
	if err := r.expect(EntityLivingAccommodation); err != nil {
		return LivingAccommodation{}, err
	}
	l := LivingAccommodation{
		Address:     r.str(FieldAddress, true),
		Name:        r.str(FieldName, true),
		IsConfirmed: r.boolean(FieldIsConfirmed),
		Trip:        r.ref(FieldTrip),
	}
	if r.err != nil {
		return LivingAccommodation{}, r.err
	}
	return l, nil
}

// DecodeBucketListItem decodes a BucketListItem snapshot.
func DecodeBucketListItem(s Snapshot) (BucketListItem, error) {
	r := fieldReader{snap: s}
	if err := r.expect(EntityBucketListItem); err != nil {
		return BucketListItem{}, err
	}
	b := BucketListItem{
		Title:          r.str(FieldTitle, true),
		Details:        r.str(FieldDetails, false),
		HasReservation: r.boolean(FieldHasReservation),
		IsInPlan:       r.boolean(FieldIsInPlan),
		Trip:           r.ref(FieldTrip),
	}
	if r.err != nil {
		return BucketListItem{}, r.err
	}
	return b, nil
}

// fieldReader accumulates the first decode failure so decoders read linearly.
type fieldReader struct {
	snap Snapshot
	err  *DecodeError
}

func (r *fieldReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &DecodeError{Identifier: r.snap.Identifier(), Field: field, Reason: reason}
	}
}

func (r *fieldReader) expect(entity EntityName) error {
	if r.snap.Entity() != entity {
		return &DecodeError{Identifier: r.snap.Identifier(), Reason: "expected " + string(entity) + ", got " + string(r.snap.Entity())}
	}
	return nil
}

func (r *fieldReader) str(name string, required bool) string {
	v, ok := r.snap.Field(name)
	if !ok || v.IsNull() {
		if required {
			r.fail(name, "missing")
		}
		return ""
	}
	s, ok := v.AsString()
	if !ok {
		r.fail(name, "expected string, got "+string(v.Kind()))
	}
	return s
}

// boolean fields are optional and default to false.
func (r *fieldReader) boolean(name string) bool {
	v, ok := r.snap.Field(name)
	if !ok || v.IsNull() {
		return false
	}
	b, ok := v.AsBool()
	if !ok {
		r.fail(name, "expected bool, got "+string(v.Kind()))
	}
	return b
}

func (r *fieldReader) date(name string) time.Time {
	v, ok := r.snap.Field(name)
	if !ok || v.IsNull() {
		r.fail(name, "missing")
		return time.Time{}
	}
	t, ok := v.AsDate()
	if !ok {
		r.fail(name, "expected date, got "+string(v.Kind()))
	}
	return t
}

func (r *fieldReader) ref(name string) *Identifier {
	v, ok := r.snap.Field(name)
	if !ok || v.IsNull() {
		return nil
	}
	id, ok := v.AsReference()
	if !ok {
		r.fail(name, "expected reference, got "+string(v.Kind()))
		return nil
	}
	return &id
}

func (r *fieldReader) refs(name string) []Identifier {
	v, ok := r.snap.Field(name)
	if !ok || v.IsNull() {
		return nil
	}
	ids, ok := v.AsReferences()
	if !ok {
		r.fail(name, "expected reference list, got "+string(v.Kind()))
		return nil
	}
	return ids
}
