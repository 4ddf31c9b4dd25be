package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching against the typed errors below.
var (
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrUnsupportedQuery  = errors.New("unsupported query")
	ErrDecode            = errors.New("snapshot decode failed")
	ErrUnknownChangeKind = errors.New("unknown change kind")
	ErrNotFound          = errors.New("not found")
)

// CorruptDocumentError reports a document whose bytes exist but do not parse.
type CorruptDocumentError struct {
	Location string
	Err      error
}

func (e *CorruptDocumentError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Location, e.Err)
}

// Unwrap exposes the underlying parse error.
func (e *CorruptDocumentError) Unwrap() error { return e.Err }

// Is matches ErrCorruptDocument.
func (e *CorruptDocumentError) Is(target error) bool { return target == ErrCorruptDocument }

// QueryCapability names the fetch feature a backend refused.
type QueryCapability string

// Capabilities the document store refuses to push down.
const (
	CapabilityPredicate QueryCapability = "predicate"
	CapabilitySort      QueryCapability = "sort"
)

// UnsupportedQueryError is returned when a fetch asks the store to filter or
// sort. Callers re-issue the fetch without those options and filter in memory.
type UnsupportedQueryError struct {
	Capability QueryCapability
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("unsupported query: %s must be applied in memory", e.Capability)
}

// Is matches ErrUnsupportedQuery.
func (e *UnsupportedQueryError) Is(target error) bool { return target == ErrUnsupportedQuery }

// DecodeError reports a snapshot whose fields do not match its entity shape.
type DecodeError struct {
	Identifier Identifier
	Field      string
	Reason     string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s: %s", e.Identifier, e.Reason)
	}
	return fmt.Sprintf("decode %s field %q: %s", e.Identifier, e.Field, e.Reason)
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// NotFoundError is returned when an operation targets a missing entity.
type NotFoundError struct {
	Identifier Identifier
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Identifier.Entity, e.Identifier)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
