package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthlabs/hearthsync/internal/model"
)

const eventColumns = `id, user_id, external_id, title, start_at, end_at,
       location, description, recurrence, updated_at, deleted_at, source`

// GetEvent returns the event with the given internal ID, or (nil, nil) if no
// such event exists.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.CalendarEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	return scanEvent(s.db.QueryRowContext(ctx, q, id))
}

// GetEventByExternalID returns the user's event linked to the given provider
// ID, or (nil, nil) if no such event exists.
func (s *Store) GetEventByExternalID(ctx context.Context, userID, externalID string) (*model.CalendarEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ? AND external_id = ?`
	return scanEvent(s.db.QueryRowContext(ctx, q, userID, externalID))
}

// ListEventsChangedSince returns all of the user's events mutated after the
// given checkpoint, tombstoned rows included.
func (s *Store) ListEventsChangedSince(ctx context.Context, userID string, since time.Time) ([]*model.CalendarEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ? AND updated_at > ?`
	rows, err := s.db.QueryContext(ctx, q, userID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying changed events for user %q: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*model.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertEvent inserts or replaces an event by its internal ID. The caller is
// responsible for stamping UpdatedAt; every mutation must carry a fresh one.
func (s *Store) UpsertEvent(ctx context.Context, ev *model.CalendarEvent) error {
	const q = `
		INSERT INTO events
		    (id, user_id, external_id, title, start_at, end_at,
		     location, description, recurrence, updated_at, deleted_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    external_id = excluded.external_id,
		    title       = excluded.title,
		    start_at    = excluded.start_at,
		    end_at      = excluded.end_at,
		    location    = excluded.location,
		    description = excluded.description,
		    recurrence  = excluded.recurrence,
		    updated_at  = excluded.updated_at,
		    deleted_at  = excluded.deleted_at,
		    source      = excluded.source`

	_, err := s.db.ExecContext(ctx, q,
		ev.ID,
		ev.UserID,
		ev.ExternalID,
		ev.Title,
		formatTime(ev.StartAt),
		formatTimePtr(ev.EndAt),
		ev.Location,
		ev.Description,
		ev.Recurrence,
		formatTime(ev.UpdatedAt),
		formatTimePtr(ev.DeletedAt),
		string(ev.Source),
	)
	if err != nil {
		return fmt.Errorf("upserting event %q: %w", ev.ID, err)
	}
	return nil
}

// TombstoneEvent soft-deletes the event, stamping both DeletedAt and
// UpdatedAt with now. Returns [ErrNotFound] when the event does not exist.
func (s *Store) TombstoneEvent(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE events SET deleted_at = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, formatTime(now), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("tombstoning event %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tombstoning event %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanEvent(sc scanner) (*model.CalendarEvent, error) {
	var ev model.CalendarEvent
	var startAt, endAt, updatedAt, deletedAt, source string

	err := sc.Scan(
		&ev.ID,
		&ev.UserID,
		&ev.ExternalID,
		&ev.Title,
		&startAt,
		&endAt,
		&ev.Location,
		&ev.Description,
		&ev.Recurrence,
		&updatedAt,
		&deletedAt,
		&source,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	ev.StartAt, _ = parseTime(startAt)
	ev.EndAt = parseTimePtr(endAt)
	ev.UpdatedAt, _ = parseTime(updatedAt)
	ev.DeletedAt = parseTimePtr(deletedAt)
	ev.Source = model.Source(source)

	return &ev, nil
}
