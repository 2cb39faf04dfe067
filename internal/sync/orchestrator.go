package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlabs/hearthsync/internal/model"
	"github.com/hearthlabs/hearthsync/internal/store"
)

// Result summarizes one sync run. It mirrors the run-log row and is returned
// to callers even when the run fails partway (partial-success semantics).
type Result struct {
	Success           bool
	EventsProcessed   int
	EventsCreated     int
	EventsUpdated     int
	EventsDeleted     int
	ConflictsDetected int
	Errors            []string
}

// Orchestrator performs full and single-event sync passes. It is stateless
// between calls; all persistent state lives in the stores. The orchestrator
// exclusively owns the transition from "diff computed" to "conflict persisted
// or change applied": nothing else writes events or conflicts during sync.
type Orchestrator struct {
	events    EventStore
	remote    RemoteCalendar
	prefs     PreferenceStore
	conflicts ConflictStore
	runs      RunStore
	log       *slog.Logger

	now func() time.Time
}

// NewOrchestrator creates an Orchestrator wired to the given stores and
// remote adapter.
func NewOrchestrator(events EventStore, remote RemoteCalendar, prefs PreferenceStore, conflicts ConflictStore, runs RunStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		events:    events,
		remote:    remote,
		prefs:     prefs,
		conflicts: conflicts,
		runs:      runs,
		log:       logger,
		now:       time.Now,
	}
}

// PerformFullSync reconciles all changes since the user's checkpoint (the
// finish time of the last successful run; zero on first run, making it a full
// import). Per-item failures are collected into the result and do not stop
// remaining items. One run-log row is always appended, except when the user
// has no preferences at all.
func (o *Orchestrator) PerformFullSync(ctx context.Context, userID string) (Result, error) {
	var res Result

	p, err := o.prefs.GetPreferences(ctx, userID)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res, fmt.Errorf("loading preferences for user %q: %w", userID, err)
	}
	if p == nil {
		res.Errors = append(res.Errors, "sync preferences missing")
		return res, fmt.Errorf("user %q: %w", userID, ErrNotConfigured)
	}

	startedAt := o.now()

	checkpoint, err := o.runs.LastSuccessfulFinish(ctx, userID)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return o.finishRun(ctx, userID, startedAt, res), err
	}

	localChanged, err := o.events.ListEventsChangedSince(ctx, userID, checkpoint)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("listing local changes: %v", err))
		return o.finishRun(ctx, userID, startedAt, res), err
	}

	remoteChanges, err := o.remote.ListChangedSince(ctx, p.CalendarID, checkpoint, p.SyncToken)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("listing remote changes: %v", err))
		return o.finishRun(ctx, userID, startedAt, res), err
	}
	// Malformed remote payloads were skipped by the adapter; they count as
	// per-item errors of this run.
	res.Errors = append(res.Errors, remoteChanges.ItemErrors...)

	o.log.Debug("change window computed",
		"user_id", userID,
		"checkpoint", checkpoint,
		"local_changed", len(localChanged),
		"remote_changed", len(remoteChanges.Events),
	)

	// Pair local and remote changes on external ID. Unlinked local rows are
	// candidates for remote creation; remote rows with no local counterpart
	// are candidates for local creation.
	localByExt := make(map[string]*model.CalendarEvent, len(localChanged))
	for _, ev := range localChanged {
		if ev.ExternalID != "" {
			localByExt[ev.ExternalID] = ev
		}
	}

	handled := make(map[string]bool, len(remoteChanges.Events))

	for i := range remoteChanges.Events {
		rev := &remoteChanges.Events[i]
		res.EventsProcessed++
		handled[rev.ExternalID] = true

		if local, ok := localByExt[rev.ExternalID]; ok {
			o.reconcilePair(ctx, p, local, rev, &res)
			continue
		}
		o.applyRemoteOnly(ctx, p, rev, &res)
	}

	for _, local := range localChanged {
		if local.ExternalID != "" && handled[local.ExternalID] {
			continue // already reconciled as a pair
		}
		res.EventsProcessed++
		o.applyLocalOnly(ctx, p, local, &res)
	}

	// The provider cursor only advances with the checkpoint: a failed run
	// must retry the same remote window. An expired token is cleared even
	// when the provider issued no replacement, so the next full listing can
	// mint a fresh cursor instead of replaying the stale one.
	switch {
	case len(res.Errors) == 0 && remoteChanges.NextSyncToken != "" && remoteChanges.NextSyncToken != p.SyncToken:
		if err := o.prefs.SaveSyncToken(ctx, userID, remoteChanges.NextSyncToken); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("saving sync token: %v", err))
		}
	case remoteChanges.TokenExpired && remoteChanges.NextSyncToken == "" && p.SyncToken != "":
		if err := o.prefs.SaveSyncToken(ctx, userID, ""); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("clearing expired sync token: %v", err))
		}
	}

	final := o.finishRun(ctx, userID, startedAt, res)

	o.log.Info("sync complete",
		"user_id", userID,
		"success", final.Success,
		"processed", final.EventsProcessed,
		"created", final.EventsCreated,
		"updated", final.EventsUpdated,
		"deleted", final.EventsDeleted,
		"conflicts", final.ConflictsDetected,
		"errors", len(final.Errors),
	)
	return final, nil
}

// finishRun stamps success, appends the run-log row, and returns the final
// result. Accumulated counts are surfaced to the caller even when the log
// write itself fails.
func (o *Orchestrator) finishRun(ctx context.Context, userID string, startedAt time.Time, res Result) Result {
	res.Success = len(res.Errors) == 0

	run := &store.Run{
		UserID:            userID,
		StartedAt:         startedAt,
		FinishedAt:        o.now(),
		Success:           res.Success,
		EventsProcessed:   res.EventsProcessed,
		EventsCreated:     res.EventsCreated,
		EventsUpdated:     res.EventsUpdated,
		EventsDeleted:     res.EventsDeleted,
		ConflictsDetected: res.ConflictsDetected,
		Errors:            res.Errors,
	}
	if err := o.runs.AppendRun(ctx, run); err != nil {
		o.log.Error("appending run log failed", "user_id", userID, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("appending run log: %v", err))
		res.Success = false
	}
	return res
}

// reconcilePair handles a local/remote pair where both sides changed since
// the checkpoint.
func (o *Orchestrator) reconcilePair(ctx context.Context, p *store.Preferences, local *model.CalendarEvent, rev *model.RemoteEvent, res *Result) {
	// Converged deletion: nothing to do.
	if local.Deleted() && rev.Deleted {
		return
	}

	// A pair with a pending conflict stays frozen until it is resolved.
	pending, err := o.conflicts.HasPendingConflict(ctx, p.UserID, local.ID, rev.ExternalID)
	if err != nil {
		o.itemError(res, "checking pending conflict for %s: %v", local.ID, err)
		return
	}
	if pending {
		return
	}

	// Content-equality tie-break: both sides edited to identical values is
	// not a conflict, just an already-reconciled pair.
	if !local.Deleted() && !rev.Deleted && local.Fields().Equal(rev.Fields()) {
		return
	}

	// In a one-way direction the suppressed side's change is invisible:
	// the pair degrades to a one-sided change from the allowed side.
	switch p.Direction {
	case model.DirectionRemoteToLocal:
		o.pullRemote(ctx, p, local, rev, res)
		return
	case model.DirectionLocalToRemote:
		o.pushLocal(ctx, p, local, res)
		return
	}

	o.recordConflict(ctx, p, local, rev, res)
}

// applyRemoteOnly handles a changed remote event whose local pair did not
// change in this window (or does not exist yet).
func (o *Orchestrator) applyRemoteOnly(ctx context.Context, p *store.Preferences, rev *model.RemoteEvent, res *Result) {
	if !p.Direction.AllowsRemoteToLocal() {
		return
	}

	local, err := o.events.GetEventByExternalID(ctx, p.UserID, rev.ExternalID)
	if err != nil {
		o.itemError(res, "looking up local pair for %s: %v", rev.ExternalID, err)
		return
	}

	if local != nil {
		pending, err := o.conflicts.HasPendingConflict(ctx, p.UserID, local.ID, rev.ExternalID)
		if err != nil {
			o.itemError(res, "checking pending conflict for %s: %v", local.ID, err)
			return
		}
		if pending {
			return // frozen until the conflict is resolved
		}
	}

	if local == nil {
		// Creation never conflicts, there is no prior state to disagree
		// with. A deletion of an event we never imported is a no-op.
		if rev.Deleted {
			return
		}
		ev := &model.CalendarEvent{
			ID:         uuid.NewString(),
			UserID:     p.UserID,
			ExternalID: rev.ExternalID,
			Source:     model.SourceRemote,
		}
		ev.ApplyFields(rev.Fields(), o.now())
		if err := o.events.UpsertEvent(ctx, ev); err != nil {
			o.itemError(res, "creating local event for %s: %v", rev.ExternalID, err)
			return
		}
		res.EventsCreated++
		return
	}

	o.pullRemote(ctx, p, local, rev, res)
}

// applyLocalOnly handles a changed local event whose remote pair did not
// change in this window (or does not exist yet).
func (o *Orchestrator) applyLocalOnly(ctx context.Context, p *store.Preferences, local *model.CalendarEvent, res *Result) {
	if !p.Direction.AllowsLocalToRemote() {
		return
	}

	if local.ExternalID == "" {
		// A tombstoned event that was never linked has nothing to delete
		// remotely.
		if local.Deleted() {
			return
		}
		created, err := o.remote.Create(ctx, p.CalendarID, local.Fields())
		if err != nil {
			o.itemError(res, "creating remote event for %q: %v", local.Title, err)
			return
		}
		local.ExternalID = created.ExternalID
		local.UpdatedAt = o.now()
		if err := o.events.UpsertEvent(ctx, local); err != nil {
			o.itemError(res, "linking event %s to %s: %v", local.ID, created.ExternalID, err)
			return
		}
		res.EventsCreated++
		return
	}

	pending, err := o.conflicts.HasPendingConflict(ctx, p.UserID, local.ID, local.ExternalID)
	if err != nil {
		o.itemError(res, "checking pending conflict for %s: %v", local.ID, err)
		return
	}
	if pending {
		return // frozen until the conflict is resolved
	}

	o.pushLocal(ctx, p, local, res)
}

// pullRemote applies the remote event's state onto the linked local event.
func (o *Orchestrator) pullRemote(ctx context.Context, p *store.Preferences, local *model.CalendarEvent, rev *model.RemoteEvent, res *Result) {
	if rev.Deleted {
		if local.Deleted() {
			return
		}
		if err := o.events.TombstoneEvent(ctx, local.ID, o.now()); err != nil {
			o.itemError(res, "tombstoning event %s: %v", local.ID, err)
			return
		}
		res.EventsDeleted++
		return
	}

	// Copying identical values is a no-op in effect; skip the write so a
	// retried window or an echo of our own push does not inflate counts.
	if !local.Deleted() && local.Fields().Equal(rev.Fields()) {
		return
	}

	local.DeletedAt = nil
	local.ApplyFields(rev.Fields(), o.now())
	if err := o.events.UpsertEvent(ctx, local); err != nil {
		o.itemError(res, "updating event %s: %v", local.ID, err)
		return
	}
	res.EventsUpdated++
}

// pushLocal applies the local event's state onto its linked remote pair.
func (o *Orchestrator) pushLocal(ctx context.Context, p *store.Preferences, local *model.CalendarEvent, res *Result) {
	if local.Deleted() {
		if err := o.remote.Delete(ctx, p.CalendarID, local.ExternalID); err != nil {
			o.itemError(res, "deleting remote event %s: %v", local.ExternalID, err)
			return
		}
		res.EventsDeleted++
		return
	}

	if _, err := o.remote.Update(ctx, p.CalendarID, local.ExternalID, local.Fields()); err != nil {
		o.itemError(res, "updating remote event %s: %v", local.ExternalID, err)
		return
	}
	res.EventsUpdated++
}

// recordConflict persists a conflict for the pair unless one is already
// pending, leaving both sides untouched.
func (o *Orchestrator) recordConflict(ctx context.Context, p *store.Preferences, local *model.CalendarEvent, rev *model.RemoteEvent, res *Result) {
	pending, err := o.conflicts.HasPendingConflict(ctx, p.UserID, local.ID, rev.ExternalID)
	if err != nil {
		o.itemError(res, "checking pending conflict for %s: %v", local.ID, err)
		return
	}
	if pending {
		return // already awaiting resolution from a retried window
	}

	c := &store.Conflict{
		ID:               uuid.NewString(),
		UserID:           p.UserID,
		LocalEventID:     local.ID,
		RemoteExternalID: rev.ExternalID,
		LocalSnapshot:    local.Snapshot(),
		RemoteSnapshot:   rev.Snapshot(),
		DetectedAt:       o.now(),
	}
	if err := o.conflicts.CreateConflict(ctx, c); err != nil {
		o.itemError(res, "recording conflict for %s: %v", local.ID, err)
		return
	}

	o.log.Info("conflict detected",
		"user_id", p.UserID,
		"event_id", local.ID,
		"external_id", rev.ExternalID,
	)
	res.ConflictsDetected++
}

// SyncSingleEvent pushes or pulls one event in the given direction. An
// invalid direction falls back to the user's configured one. Used by
// conflict resolution and the manual per-event sync surface; it does not
// write a run-log row (checkpoints advance only with full runs).
func (o *Orchestrator) SyncSingleEvent(ctx context.Context, userID, eventID string, direction model.SyncDirection) (Result, error) {
	var res Result

	p, err := o.prefs.GetPreferences(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("loading preferences for user %q: %w", userID, err)
	}
	if p == nil {
		return res, fmt.Errorf("user %q: %w", userID, ErrNotConfigured)
	}
	if !direction.Valid() {
		direction = p.Direction
	}

	local, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return res, err
	}
	if local == nil || local.UserID != userID {
		return res, fmt.Errorf("event %q: %w", eventID, store.ErrNotFound)
	}

	if direction.AllowsLocalToRemote() {
		res.EventsProcessed++
		if local.ExternalID == "" && !local.Deleted() {
			created, err := o.remote.Create(ctx, p.CalendarID, local.Fields())
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				return res, err
			}
			local.ExternalID = created.ExternalID
			local.UpdatedAt = o.now()
			if err := o.events.UpsertEvent(ctx, local); err != nil {
				res.Errors = append(res.Errors, err.Error())
				return res, err
			}
			res.EventsCreated++
		} else if local.ExternalID != "" {
			o.pushLocal(ctx, p, local, &res)
		}
	} else if local.ExternalID != "" {
		res.EventsProcessed++
		rev, err := o.remote.Get(ctx, p.CalendarID, local.ExternalID)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res, err
		}
		if rev == nil {
			rev = &model.RemoteEvent{ExternalID: local.ExternalID, Deleted: true}
		}
		o.pullRemote(ctx, p, local, rev, &res)
	}

	res.Success = len(res.Errors) == 0
	return res, nil
}

// PendingConflicts returns the user's conflicts awaiting resolution.
func (o *Orchestrator) PendingConflicts(ctx context.Context, userID string) ([]*store.Conflict, error) {
	return o.conflicts.ListPendingConflicts(ctx, userID)
}

func (o *Orchestrator) itemError(res *Result, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.log.Error("sync item failed", "error", msg)
	res.Errors = append(res.Errors, msg)
}
