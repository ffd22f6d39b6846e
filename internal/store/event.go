// Package store holds the local calendar event collection. It defines the
// Event model and the Store interface the sync engine operates against, with
// two backends: a JSON snapshot file and an embedded SQLite database.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no event with the given id exists.
var ErrNotFound = errors.New("store: event not found")

// Event is one calendar event in the local store.
//
// Remote linkage fields (RemoteURL, RemoteUID, RemoteETag) are populated once
// the event is known to exist on a CalDAV server. RemoteETag is the opaque
// version token last observed for the remote object; it changes iff the
// remote content changed and is the sole signal for pull-side updates.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`

	// Completed is local-only and never sent to the server.
	Completed bool `json:"completed"`

	// Source identifies provenance: "manual", "import", or a provider sync
	// tag such as "qq-sync". The deletion sweep and push candidate selection
	// are scoped by this field.
	Source string `json:"source"`

	RemoteURL  string `json:"remoteUrl,omitempty"`
	RemoteUID  string `json:"remoteUid,omitempty"`
	RemoteETag string `json:"remoteEtag,omitempty"`

	// NeedsPush marks events that must be reconciled to the server on the
	// next push phase. NeedsDelete marks linked events whose remote copy
	// should be deleted.
	NeedsPush   bool `json:"needsPush"`
	NeedsDelete bool `json:"needsDelete,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy of the event. Stores return clones so callers can
// mutate results without aliasing store-internal state.
func (e *Event) Clone() *Event {
	c := *e
	return &c
}
