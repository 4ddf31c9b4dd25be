package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind discriminates the serialized form of a snapshot field.
type ValueKind string

// Supported field value kinds.
const (
	KindNull       ValueKind = "null"
	KindString     ValueKind = "string"
	KindBool       ValueKind = "bool"
	KindInt        ValueKind = "int"
	KindFloat      ValueKind = "float"
	KindDate       ValueKind = "date"
	KindReference  ValueKind = "ref"
	KindReferences ValueKind = "refs"
)

// DateLayout is the fixed, timezone-explicit layout used for date fields.
const DateLayout = time.RFC3339Nano

// Value is one serialized field of a snapshot. The zero Value is null.
type Value struct {
	kind ValueKind
	str  string
	b    bool
	i    int64
	f    float64
	t    time.Time
	ref  Identifier
	refs []Identifier
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// StringValue wraps a string field.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// BoolValue wraps a boolean field.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue wraps an integer field.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue wraps a floating point field.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// DateValue wraps a date field, normalized to UTC.
func DateValue(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }

// ReferenceValue wraps a to-one relationship. A nil pointer yields null.
func ReferenceValue(id *Identifier) Value {
	if id == nil || id.IsZero() {
		return Null()
	}
	return Value{kind: KindReference, ref: *id}
}

// ReferencesValue wraps a to-many relationship.
func ReferencesValue(ids []Identifier) Value {
	return Value{kind: KindReferences, refs: append([]Identifier{}, ids...)}
}

// Kind reports the value discriminator.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload. Integers widen.
func (v Value) AsFloat() (float64, bool) {
	if v.kind == KindInt {
		return float64(v.i), true
	}
	return v.f, v.kind == KindFloat
}

// AsDate returns the date payload.
func (v Value) AsDate() (time.Time, bool) { return v.t, v.kind == KindDate }

// AsReference returns the referenced identifier.
func (v Value) AsReference() (Identifier, bool) { return v.ref, v.kind == KindReference }

// AsReferences returns a copy of the referenced identifiers.
func (v Value) AsReferences() ([]Identifier, bool) {
	if v.kind != KindReferences {
		return nil, false
	}
	return append([]Identifier{}, v.refs...), true
}

// Equal compares two values by kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindDate:
		return v.t.Equal(o.t)
	case KindReference:
		return v.ref == o.ref
	case KindReferences:
		if len(v.refs) != len(o.refs) {
			return false
		}
		for i := range v.refs {
			if v.refs[i] != o.refs[i] {
				return false
			}
		}
		return true
	}
	return false
}

// remap rewrites identifiers found in mapping. Non-reference values are
// returned unchanged.
func (v Value) remap(mapping map[Identifier]Identifier) Value {
	switch v.kind {
	case KindReference:
		if to, ok := mapping[v.ref]; ok {
			return Value{kind: KindReference, ref: to}
		}
	case KindReferences:
		out := make([]Identifier, len(v.refs))
		for i, id := range v.refs {
			if to, ok := mapping[id]; ok {
				id = to
			}
			out[i] = id
		}
		return Value{kind: KindReferences, refs: out}
	}
	return v
}

type wireValue struct {
	Type  ValueKind       `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"type": kind, "value": payload}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind() {
	case KindNull:
		return json.Marshal(wireValue{Type: KindNull})
	case KindString:
		payload = v.str
	case KindBool:
		payload = v.b
	case KindInt:
		payload = v.i
	case KindFloat:
		payload = v.f
	case KindDate:
		payload = v.t.UTC().Format(DateLayout)
	case KindReference:
		payload = v.ref
	case KindReferences:
		refs := v.refs
		if refs == nil {
			refs = []Identifier{}
		}
		payload = refs
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Kind(), Value: raw})
}

// UnmarshalJSON decodes the tagged representation produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Value{kind: w.Type}
	var err error
	switch w.Type {
	case KindNull:
	case KindString:
		err = json.Unmarshal(w.Value, &out.str)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.b)
	case KindInt:
		err = json.Unmarshal(w.Value, &out.i)
	case KindFloat:
		err = json.Unmarshal(w.Value, &out.f)
	case KindDate:
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			out.t, err = time.Parse(DateLayout, s)
			out.t = out.t.UTC()
		}
	case KindReference:
		err = json.Unmarshal(w.Value, &out.ref)
	case KindReferences:
		out.refs = []Identifier{}
		err = json.Unmarshal(w.Value, &out.refs)
	default:
		return fmt.Errorf("unknown value type %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", w.Type, err)
	}
	*v = out
	return nil
}
