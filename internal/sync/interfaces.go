// Package sync implements bidirectional calendar reconciliation with
// conflict detection. It compares the local event store and the remote
// provider against the last successful checkpoint, applies non-conflicting
// changes, records conflicts for manual resolution, and appends a run log.
//
// The package contains three main components:
//
//   - [Orchestrator] computes and applies the diff for one run.
//   - [Orchestrator.ResolveConflict] applies a user's conflict decision.
//   - [Scheduler] drives runs on a wall-clock tick with per-user gating.
package sync

import (
	"context"
	"time"

	"github.com/hearthlabs/hearthsync/internal/model"
	"github.com/hearthlabs/hearthsync/internal/store"
)

// EventStore provides access to the local canonical events.
// Implemented by [store.Store].
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*model.CalendarEvent, error)
	GetEventByExternalID(ctx context.Context, userID, externalID string) (*model.CalendarEvent, error)
	ListEventsChangedSince(ctx context.Context, userID string, since time.Time) ([]*model.CalendarEvent, error)
	UpsertEvent(ctx context.Context, ev *model.CalendarEvent) error
	TombstoneEvent(ctx context.Context, id string, now time.Time) error
}

// RemoteCalendar provides capability-scoped access to the remote provider's
// events. Implemented by [googlecal.Adapter].
type RemoteCalendar interface {
	ListChangedSince(ctx context.Context, calendarID string, since time.Time, syncToken string) (model.RemoteChanges, error)
	Get(ctx context.Context, calendarID, externalID string) (*model.RemoteEvent, error)
	Create(ctx context.Context, calendarID string, fields model.EventFields) (model.RemoteEvent, error)
	Update(ctx context.Context, calendarID, externalID string, fields model.EventFields) (model.RemoteEvent, error)
	Delete(ctx context.Context, calendarID, externalID string) error
}

// PreferenceStore provides access to per-user sync settings.
// Implemented by [store.Store].
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*store.Preferences, error)
	ListPreferences(ctx context.Context) ([]*store.Preferences, error)
	SaveSyncToken(ctx context.Context, userID, token string) error
}

// ConflictStore provides access to durable conflict records.
// Implemented by [store.Store].
type ConflictStore interface {
	CreateConflict(ctx context.Context, c *store.Conflict) error
	GetConflict(ctx context.Context, id string) (*store.Conflict, error)
	ListPendingConflicts(ctx context.Context, userID string) ([]*store.Conflict, error)
	HasPendingConflict(ctx context.Context, userID, localEventID, remoteExternalID string) (bool, error)
	ResolveConflict(ctx context.Context, id string, resolution model.Resolution, now time.Time) error
}

// RunStore provides access to the append-only sync-run log.
// Implemented by [store.Store].
type RunStore interface {
	AppendRun(ctx context.Context, r *store.Run) error
	LastSuccessfulFinish(ctx context.Context, userID string) (time.Time, error)
}
