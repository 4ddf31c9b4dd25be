// Package domain defines the persisted trip entities, their snapshot form,
// and the history and preference contracts shared by every backend.
package domain

import "time"

// Entity is implemented by every persisted model type.
type Entity interface {
	EntityName() EntityName
	// SnapshotFields returns the serialized field map for the entity.
	SnapshotFields() map[string]Value
}

// Trip is the parent record shown by the app and the widget.
type Trip struct {
	Name                string
	Destination         string
	StartDate           time.Time
	EndDate             time.Time
	LivingAccommodation *Identifier
	BucketList          []Identifier
}

// EntityName implements Entity.
func (Trip) EntityName() EntityName { return EntityTrip }

// DisplayName falls back to a placeholder for unnamed trips.
func (t Trip) DisplayName() string {
	if t.Name == "" {
		return "Untitled Trip"
	}
	return t.Name
}

// LivingAccommodation is owned by at most one trip.
type LivingAccommodation struct {
	Address     string
	Name        string
	IsConfirmed bool
	Trip        *Identifier
}

// EntityName implements Entity.
func (LivingAccommodation) EntityName() EntityName { return EntityLivingAccommodation }

// DisplayAddress falls back to a placeholder for an empty address.
func (l LivingAccommodation) DisplayAddress() string {
	if l.Address == "" {
		return "No Address"
	}
	return l.Address
}

// DisplayPlaceName falls back to a placeholder for an empty name.
func (l LivingAccommodation) DisplayPlaceName() string {
	if l.Name == "" {
		return "No Place"
	}
	return l.Name
}

// BucketListItem is an activity planned for a trip.
type BucketListItem struct {
	Title          string
	Details        string
	HasReservation bool
	IsInPlan       bool
	Trip           *Identifier
}

// EntityName implements Entity.
func (BucketListItem) EntityName() EntityName { return EntityBucketListItem }
