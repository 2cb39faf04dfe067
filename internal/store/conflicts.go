package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthlabs/hearthsync/internal/model"
)

// Conflict is a durable record of a detected sync conflict awaiting user
// resolution. Once resolved, only Resolution and ResolvedAt change; the row
// is retained for audit, never hard-deleted.
type Conflict struct {
	ID               string
	UserID           string
	LocalEventID     string // empty when no local row was involved
	RemoteExternalID string
	LocalSnapshot    model.Snapshot
	RemoteSnapshot   model.Snapshot
	DetectedAt       time.Time
	Resolution       model.Resolution // empty until resolved
	ResolvedAt       *time.Time
}

// Resolved reports whether a resolution has been recorded.
func (c *Conflict) Resolved() bool {
	return c.Resolution != ""
}

const conflictColumns = `id, user_id, local_event_id, remote_external_id,
       local_snapshot, remote_snapshot, detected_at, resolution, resolved_at`

// CreateConflict persists a newly detected conflict.
func (s *Store) CreateConflict(ctx context.Context, c *Conflict) error {
	localSnap, err := model.EncodeSnapshot(c.LocalSnapshot)
	if err != nil {
		return fmt.Errorf("conflict %q local snapshot: %w", c.ID, err)
	}
	remoteSnap, err := model.EncodeSnapshot(c.RemoteSnapshot)
	if err != nil {
		return fmt.Errorf("conflict %q remote snapshot: %w", c.ID, err)
	}

	const q = `
		INSERT INTO sync_conflicts
		    (id, user_id, local_event_id, remote_external_id,
		     local_snapshot, remote_snapshot, detected_at, resolution, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', '')`

	_, err = s.db.ExecContext(ctx, q,
		c.ID,
		c.UserID,
		c.LocalEventID,
		c.RemoteExternalID,
		localSnap,
		remoteSnap,
		formatTime(c.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("creating conflict %q: %w", c.ID, err)
	}
	return nil
}

// GetConflict returns the conflict with the given ID, or (nil, nil) if no
// such conflict exists.
func (s *Store) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`
	return scanConflict(s.db.QueryRowContext(ctx, q, id))
}

// ListPendingConflicts returns the user's unresolved conflicts, oldest first.
func (s *Store) ListPendingConflicts(ctx context.Context, userID string) ([]*Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM sync_conflicts
	      WHERE user_id = ? AND resolution = '' ORDER BY detected_at`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("querying pending conflicts for user %q: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// HasPendingConflict reports whether an unresolved conflict already exists
// for the given local/remote pair. Used to keep retried change windows from
// duplicating conflict rows.
func (s *Store) HasPendingConflict(ctx context.Context, userID, localEventID, remoteExternalID string) (bool, error) {
	const q = `
		SELECT COUNT(*) FROM sync_conflicts
		WHERE user_id = ? AND local_event_id = ? AND remote_external_id = ? AND resolution = ''`
	var count int
	err := s.db.QueryRowContext(ctx, q, userID, localEventID, remoteExternalID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking pending conflict: %w", err)
	}
	return count > 0, nil
}

// ResolveConflict records the resolution and its timestamp. It fails with
// [ErrAlreadyResolved] when the conflict already carries a resolution, and
// [ErrNotFound] when no such conflict exists.
func (s *Store) ResolveConflict(ctx context.Context, id string, resolution model.Resolution, now time.Time) error {
	const q = `
		UPDATE sync_conflicts SET resolution = ?, resolved_at = ?
		WHERE id = ? AND resolution = ''`

	res, err := s.db.ExecContext(ctx, q, string(resolution), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("resolving conflict %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving conflict %q: %w", id, err)
	}
	if n == 0 {
		existing, err := s.GetConflict(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("conflict %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("conflict %q: %w", id, ErrAlreadyResolved)
	}
	return nil
}

func scanConflict(sc scanner) (*Conflict, error) {
	var c Conflict
	var localSnap, remoteSnap, detectedAt, resolution, resolvedAt string

	err := sc.Scan(
		&c.ID,
		&c.UserID,
		&c.LocalEventID,
		&c.RemoteExternalID,
		&localSnap,
		&remoteSnap,
		&detectedAt,
		&resolution,
		&resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conflict row: %w", err)
	}

	if c.LocalSnapshot, err = model.DecodeSnapshot(localSnap); err != nil {
		return nil, fmt.Errorf("conflict %q: %w", c.ID, err)
	}
	if c.RemoteSnapshot, err = model.DecodeSnapshot(remoteSnap); err != nil {
		return nil, fmt.Errorf("conflict %q: %w", c.ID, err)
	}
	c.DetectedAt, _ = parseTime(detectedAt)
	c.Resolution = model.Resolution(resolution)
	c.ResolvedAt = parseTimePtr(resolvedAt)

	return &c, nil
}
