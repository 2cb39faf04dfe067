// Package model defines shared types used across the sync engine, the event
// store, and the Google Calendar adapter.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Source records where a calendar event originated.
type Source string

const (
	// SourceManual marks an event created by the user in the app.
	SourceManual Source = "manual"
	// SourceRemote marks an event first imported from the remote provider.
	SourceRemote Source = "remote"
)

// SyncDirection controls which way changes are allowed to flow.
type SyncDirection string

const (
	// DirectionBidirectional propagates changes both ways.
	DirectionBidirectional SyncDirection = "bidirectional"
	// DirectionRemoteToLocal only imports remote changes.
	DirectionRemoteToLocal SyncDirection = "remote_to_local"
	// DirectionLocalToRemote only exports local changes.
	DirectionLocalToRemote SyncDirection = "local_to_remote"
)

// Valid reports whether d is one of the three known directions.
func (d SyncDirection) Valid() bool {
	switch d {
	case DirectionBidirectional, DirectionRemoteToLocal, DirectionLocalToRemote:
		return true
	}
	return false
}

// AllowsLocalToRemote reports whether local changes may be pushed remote-ward.
func (d SyncDirection) AllowsLocalToRemote() bool {
	return d == DirectionBidirectional || d == DirectionLocalToRemote
}

// AllowsRemoteToLocal reports whether remote changes may be applied locally.
func (d SyncDirection) AllowsRemoteToLocal() bool {
	return d == DirectionBidirectional || d == DirectionRemoteToLocal
}

// Resolution is the user's decision for a detected conflict.
type Resolution string

const (
	// ResolutionKeepLocal pushes the local snapshot to the remote provider.
	ResolutionKeepLocal Resolution = "keep_local"
	// ResolutionKeepRemote applies the remote snapshot to the local event.
	ResolutionKeepRemote Resolution = "keep_remote"
	// ResolutionMerge pushes a caller-merged local event state remote-ward.
	ResolutionMerge Resolution = "merge"
)

// Valid reports whether r is one of the three known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepLocal, ResolutionKeepRemote, ResolutionMerge:
		return true
	}
	return false
}

// CalendarEvent is the canonical local record of a calendar entry.
type CalendarEvent struct {
	// ID is the internal identity. Stable, never reused.
	ID string

	// UserID scopes the event to its owner.
	UserID string

	// ExternalID is the remote provider's event ID once the event has been
	// linked. Empty means not yet linked; non-empty values are unique per
	// user.
	ExternalID string

	Title       string
	StartAt     time.Time
	EndAt       *time.Time // nil for all-day events
	Location    string
	Description string

	// Recurrence is the event's RRULE, or empty for a one-off event.
	Recurrence string

	// UpdatedAt is set on every local mutation and is authoritative for
	// change-window comparison against the sync checkpoint.
	UpdatedAt time.Time

	// DeletedAt is the soft-deletion tombstone. A deletion is a mutation,
	// not a row removal, so it can be diffed like any other change.
	DeletedAt *time.Time

	Source Source
}

// Deleted reports whether the event carries a tombstone.
func (e *CalendarEvent) Deleted() bool {
	return e.DeletedAt != nil
}

// Fields extracts the comparable field set of the event.
func (e *CalendarEvent) Fields() EventFields {
	return EventFields{
		Title:       e.Title,
		StartAt:     e.StartAt,
		EndAt:       e.EndAt,
		Location:    e.Location,
		Description: e.Description,
		Recurrence:  e.Recurrence,
	}
}

// Snapshot captures the event's state for conflict records.
func (e *CalendarEvent) Snapshot() Snapshot {
	return Snapshot{EventFields: e.Fields(), Deleted: e.Deleted()}
}

// ApplyFields copies the comparable fields onto the event and stamps
// UpdatedAt.
func (e *CalendarEvent) ApplyFields(f EventFields, now time.Time) {
	e.Title = f.Title
	e.StartAt = f.StartAt
	e.EndAt = f.EndAt
	e.Location = f.Location
	e.Description = f.Description
	e.Recurrence = f.Recurrence
	e.UpdatedAt = now
}

// RemoteEvent is the provider's representation of an event, projected onto
// the fields the sync algorithm depends on. It is fetched transiently per
// sync run and never persisted as-is.
type RemoteEvent struct {
	ExternalID  string
	Title       string
	StartAt     time.Time
	EndAt       *time.Time
	Location    string
	Description string
	Recurrence  string

	// UpdatedAt is the provider's last-modified timestamp.
	UpdatedAt time.Time

	// Deleted is true when the provider signals the event as removed.
	Deleted bool
}

// Fields extracts the comparable field set of the remote event.
func (r *RemoteEvent) Fields() EventFields {
	return EventFields{
		Title:       r.Title,
		StartAt:     r.StartAt,
		EndAt:       r.EndAt,
		Location:    r.Location,
		Description: r.Description,
		Recurrence:  r.Recurrence,
	}
}

// Snapshot captures the remote event's state for conflict records.
func (r *RemoteEvent) Snapshot() Snapshot {
	return Snapshot{EventFields: r.Fields(), Deleted: r.Deleted}
}

// RemoteChanges is the result of an incremental change listing against the
// remote provider.
type RemoteChanges struct {
	// Events are the successfully translated changed events.
	Events []RemoteEvent

	// NextSyncToken is the provider's cursor for the next incremental
	// listing. Empty when the provider did not issue one.
	NextSyncToken string

	// TokenExpired reports that the supplied sync token was rejected and the
	// listing fell back to a time-bounded query. The stored token is stale
	// and must be discarded so a later full listing can mint a fresh one.
	TokenExpired bool

	// ItemErrors describes remote payloads that failed translation. They
	// are per-item failures: the listing as a whole still succeeded.
	ItemErrors []string
}

// EventFields is the set of fields that participate in change detection and
// propagation. Identity and bookkeeping fields are excluded.
type EventFields struct {
	Title       string     `json:"title"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Recurrence  string     `json:"recurrence,omitempty"`
}

// ContentHash returns a deterministic SHA-256 hex digest of the comparable
// fields. Timestamps of modification are intentionally excluded; they change
// on every save and only bound the change window, they never decide equality.
func (f EventFields) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(f.Title))
	h.Write([]byte("|"))
	h.Write([]byte(f.StartAt.UTC().Format(time.RFC3339)))
	h.Write([]byte("|"))
	if f.EndAt != nil {
		h.Write([]byte(f.EndAt.UTC().Format(time.RFC3339)))
	}
	h.Write([]byte("|"))
	h.Write([]byte(f.Location))
	h.Write([]byte("|"))
	h.Write([]byte(f.Description))
	h.Write([]byte("|"))
	h.Write([]byte(f.Recurrence))
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether two field sets carry identical content. Used for the
// content-equality tie-break: both sides changed but converged → no conflict.
func (f EventFields) Equal(other EventFields) bool {
	return f.ContentHash() == other.ContentHash()
}

// Snapshot is an event's state serialized into a conflict record at detection
// time. Deleted distinguishes a tombstoned side from an edited one.
type Snapshot struct {
	EventFields
	Deleted bool `json:"deleted,omitempty"`
}

// EncodeSnapshot serializes a snapshot for durable storage.
func EncodeSnapshot(s Snapshot) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeSnapshot deserializes a stored snapshot.
func DecodeSnapshot(raw string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return s, nil
}
