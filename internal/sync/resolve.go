package sync

import (
	"context"
	"fmt"

	"github.com/hearthlabs/hearthsync/internal/model"
	"github.com/hearthlabs/hearthsync/internal/store"
)

// ResolveConflict applies the chosen side of a pending conflict and marks it
// resolved. keep_local and merge push the current local row outward (a merge
// is expected to have been written to the local event before resolving);
// keep_remote applies the remote snapshot captured at detection time onto the
// local row. Resolution is an explicit user decision, so it applies even
// under a one-way direction preference. A conflict owned by another user is
// reported as not found.
func (o *Orchestrator) ResolveConflict(ctx context.Context, userID, conflictID string, resolution model.Resolution) error {
	if !resolution.Valid() {
		return fmt.Errorf("invalid resolution %q", resolution)
	}

	c, err := o.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if c == nil || c.UserID != userID {
		return fmt.Errorf("conflict %q: %w", conflictID, store.ErrNotFound)
	}
	if c.Resolved() {
		return fmt.Errorf("conflict %q: %w", conflictID, store.ErrAlreadyResolved)
	}

	p, err := o.prefs.GetPreferences(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("loading preferences for user %q: %w", c.UserID, err)
	}
	if p == nil {
		return fmt.Errorf("user %q: %w", c.UserID, ErrNotConfigured)
	}

	local, err := o.events.GetEvent(ctx, c.LocalEventID)
	if err != nil {
		return err
	}
	if local == nil {
		return fmt.Errorf("event %q: %w", c.LocalEventID, store.ErrNotFound)
	}

	switch resolution {
	case model.ResolutionKeepLocal, model.ResolutionMerge:
		if err := o.applyLocalWins(ctx, p, local); err != nil {
			return err
		}
	case model.ResolutionKeepRemote:
		if err := o.applyRemoteWins(ctx, local, c.RemoteSnapshot); err != nil {
			return err
		}
	}

	if err := o.conflicts.ResolveConflict(ctx, conflictID, resolution, o.now()); err != nil {
		return err
	}

	o.log.Info("conflict resolved",
		"user_id", c.UserID,
		"conflict_id", conflictID,
		"event_id", c.LocalEventID,
		"resolution", resolution,
	)
	return nil
}

// applyLocalWins pushes the local row's current state over its remote pair.
func (o *Orchestrator) applyLocalWins(ctx context.Context, p *store.Preferences, local *model.CalendarEvent) error {
	if local.ExternalID == "" {
		return nil // pair was unlinked since detection; nothing to overwrite
	}
	if local.Deleted() {
		if err := o.remote.Delete(ctx, p.CalendarID, local.ExternalID); err != nil {
			return fmt.Errorf("deleting remote event %s: %w", local.ExternalID, err)
		}
		return nil
	}
	if _, err := o.remote.Update(ctx, p.CalendarID, local.ExternalID, local.Fields()); err != nil {
		return fmt.Errorf("updating remote event %s: %w", local.ExternalID, err)
	}
	return nil
}

// applyRemoteWins writes the remote snapshot captured at detection over the
// local row.
func (o *Orchestrator) applyRemoteWins(ctx context.Context, local *model.CalendarEvent, snap model.Snapshot) error {
	if snap.Deleted {
		if local.Deleted() {
			return nil
		}
		if err := o.events.TombstoneEvent(ctx, local.ID, o.now()); err != nil {
			return fmt.Errorf("tombstoning event %s: %w", local.ID, err)
		}
		return nil
	}

	local.DeletedAt = nil
	local.ApplyFields(snap.EventFields, o.now())
	if err := o.events.UpsertEvent(ctx, local); err != nil {
		return fmt.Errorf("updating event %s: %w", local.ID, err)
	}
	return nil
}
