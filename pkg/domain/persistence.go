package domain

import "context"

// Well-known preference keys shared by the app and widget processes.
const (
	PreferenceHistoryToken          = "historyToken"
	PreferenceUnreadTripIdentifiers = "unreadTripIdentifiers"
)

// Transaction authors.
const (
	// AuthorWidget tags writes made on behalf of the widget extension.
	AuthorWidget = "widget"
	// AuthorApp tags writes made by the main application.
	AuthorApp = "app"
)

// WidgetKindTrips is the reload kind signalled after trip edits.
const WidgetKindTrips = "TripsWidget"

// PreferenceStore is a small per-app key-value blob store that survives
// process restarts.
type PreferenceStore interface {
	// Data returns the bytes stored under key, or ok=false when absent.
	Data(ctx context.Context, key string) (data []byte, ok bool, err error)
	// SetData stores data under key, replacing any previous value.
	SetData(ctx context.Context, key string, data []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// ReloadNotifier invalidates cached renders of a widget kind.
type ReloadNotifier interface {
	ReloadTimelines(kind string)
}

// ReloadNotifierFunc adapts a function to ReloadNotifier.
type ReloadNotifierFunc func(kind string)

// ReloadTimelines implements ReloadNotifier.
func (f ReloadNotifierFunc) ReloadTimelines(kind string) { f(kind) }
