package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hearthlabs/hearthsync/internal/model"
)

// Frequency bounds for sync_preferences, in minutes.
const (
	MinFrequencyMinutes = 5
	MaxFrequencyMinutes = 240
)

// Preferences holds a user's sync settings. Mutated only by explicit user
// action; read by the scheduler on every tick.
type Preferences struct {
	UserID           string
	SyncEnabled      bool
	FrequencyMinutes int
	Direction        model.SyncDirection

	// CalendarID is the remote provider's calendar this user syncs against.
	CalendarID string

	// SyncToken is the provider's incremental-sync cursor. Empty forces a
	// time-bounded query. Owned by the remote adapter.
	SyncToken string

	UpdatedAt time.Time
}

// PreferencesUpdate is a partial update; nil fields are left unchanged.
type PreferencesUpdate struct {
	SyncEnabled      *bool
	FrequencyMinutes *int
	Direction        *model.SyncDirection
	CalendarID       *string
}

// GetPreferences returns the user's preferences, or (nil, nil) when the user
// has never configured sync.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	const q = `
		SELECT user_id, sync_enabled, frequency_minutes, direction,
		       calendar_id, sync_token, updated_at
		FROM sync_preferences WHERE user_id = ?`
	return scanPreferences(s.db.QueryRowContext(ctx, q, userID))
}

// ListPreferences returns preferences for every configured user.
func (s *Store) ListPreferences(ctx context.Context) ([]*Preferences, error) {
	const q = `
		SELECT user_id, sync_enabled, frequency_minutes, direction,
		       calendar_id, sync_token, updated_at
		FROM sync_preferences ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prefs []*Preferences
	for rows.Next() {
		p, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// UpsertPreferences applies a partial update, creating the row with defaults
// on first touch. Frequency is clamped-checked against the documented bounds
// and the direction must be one of the known values.
func (s *Store) UpsertPreferences(ctx context.Context, userID string, upd PreferencesUpdate, now time.Time) (*Preferences, error) {
	if upd.FrequencyMinutes != nil {
		if *upd.FrequencyMinutes < MinFrequencyMinutes || *upd.FrequencyMinutes > MaxFrequencyMinutes {
			return nil, fmt.Errorf("frequency %d out of range [%d, %d]",
				*upd.FrequencyMinutes, MinFrequencyMinutes, MaxFrequencyMinutes)
		}
	}
	if upd.Direction != nil && !upd.Direction.Valid() {
		return nil, fmt.Errorf("unknown sync direction %q", *upd.Direction)
	}

	p, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Preferences{
			UserID:           userID,
			FrequencyMinutes: 30,
			Direction:        model.DirectionBidirectional,
		}
	}

	if upd.SyncEnabled != nil {
		p.SyncEnabled = *upd.SyncEnabled
	}
	if upd.FrequencyMinutes != nil {
		p.FrequencyMinutes = *upd.FrequencyMinutes
	}
	if upd.Direction != nil {
		p.Direction = *upd.Direction
	}
	if upd.CalendarID != nil {
		p.CalendarID = *upd.CalendarID
	}
	p.UpdatedAt = now

	const q = `
		INSERT INTO sync_preferences
		    (user_id, sync_enabled, frequency_minutes, direction,
		     calendar_id, sync_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		    sync_enabled      = excluded.sync_enabled,
		    frequency_minutes = excluded.frequency_minutes,
		    direction         = excluded.direction,
		    calendar_id       = excluded.calendar_id,
		    updated_at        = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		p.UserID,
		boolToInt(p.SyncEnabled),
		p.FrequencyMinutes,
		string(p.Direction),
		p.CalendarID,
		p.SyncToken,
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting preferences for user %q: %w", userID, err)
	}
	return p, nil
}

// SaveSyncToken stores the provider's incremental-sync cursor for the user.
// An empty token clears the cursor, forcing the next run onto a time-bounded
// query.
func (s *Store) SaveSyncToken(ctx context.Context, userID, token string) error {
	const q = `UPDATE sync_preferences SET sync_token = ? WHERE user_id = ?`
	res, err := s.db.ExecContext(ctx, q, token, userID)
	if err != nil {
		return fmt.Errorf("saving sync token for user %q: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("saving sync token for user %q: %w", userID, ErrNotFound)
	}
	return nil
}

func scanPreferences(sc scanner) (*Preferences, error) {
	var p Preferences
	var enabled int
	var direction, updatedAt string

	err := sc.Scan(
		&p.UserID,
		&enabled,
		&p.FrequencyMinutes,
		&direction,
		&p.CalendarID,
		&p.SyncToken,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning preferences row: %w", err)
	}

	p.SyncEnabled = enabled != 0
	p.Direction = model.SyncDirection(direction)
	p.UpdatedAt, _ = parseTime(updatedAt)

	return &p, nil
}
