package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run is one row of the append-only sync-run log. The FinishedAt of the last
// successful run is the checkpoint for the next run's change window.
type Run struct {
	ID                int64
	UserID            string
	StartedAt         time.Time
	FinishedAt        time.Time
	Success           bool
	EventsProcessed   int
	EventsCreated     int
	EventsUpdated     int
	EventsDeleted     int
	ConflictsDetected int
	Errors            []string
}

// AppendRun writes one run-log row. Rows are never mutated afterwards.
func (s *Store) AppendRun(ctx context.Context, r *Run) error {
	errsJSON, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("encoding run errors: %w", err)
	}
	if r.Errors == nil {
		errsJSON = []byte("[]")
	}

	const q = `
		INSERT INTO sync_runs
		    (user_id, started_at, finished_at, success, events_processed,
		     events_created, events_updated, events_deleted, conflicts_detected, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		r.UserID,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		boolToInt(r.Success),
		r.EventsProcessed,
		r.EventsCreated,
		r.EventsUpdated,
		r.EventsDeleted,
		r.ConflictsDetected,
		string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("appending sync run for user %q: %w", r.UserID, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		r.ID = id
	}
	return nil
}

// LastSuccessfulFinish returns the FinishedAt of the user's most recent
// successful run, or the zero time when no successful run exists (the first
// run is then a full import).
func (s *Store) LastSuccessfulFinish(ctx context.Context, userID string) (time.Time, error) {
	const q = `
		SELECT finished_at FROM sync_runs
		WHERE user_id = ? AND success = 1
		ORDER BY id DESC LIMIT 1`

	var finishedAt string
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("querying last successful run for user %q: %w", userID, err)
	}
	return parseTime(finishedAt)
}

// ListRecentRuns returns up to limit of the user's most recent runs, newest
// first.
func (s *Store) ListRecentRuns(ctx context.Context, userID string, limit int) ([]*Run, error) {
	const q = `
		SELECT id, user_id, started_at, finished_at, success, events_processed,
		       events_created, events_updated, events_deleted, conflicts_detected, errors
		FROM sync_runs WHERE user_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs for user %q: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt, errsJSON string
		var success int
		err := rows.Scan(
			&r.ID,
			&r.UserID,
			&startedAt,
			&finishedAt,
			&success,
			&r.EventsProcessed,
			&r.EventsCreated,
			&r.EventsUpdated,
			&r.EventsDeleted,
			&r.ConflictsDetected,
			&errsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		r.FinishedAt, _ = parseTime(finishedAt)
		r.Success = success != 0
		if err := json.Unmarshal([]byte(errsJSON), &r.Errors); err != nil {
			return nil, fmt.Errorf("decoding run %d errors: %w", r.ID, err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
