// Package store manages the SQLite database persisting calendar events,
// detected sync conflicts, the sync-run log, and per-user sync preferences.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    external_id TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL,
    start_at    TEXT NOT NULL,
    end_at      TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    recurrence  TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL,
    deleted_at  TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT 'manual'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_external
    ON events (user_id, external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_events_user_updated
    ON events (user_id, updated_at);

CREATE TABLE IF NOT EXISTS sync_conflicts (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    local_event_id     TEXT NOT NULL DEFAULT '',
    remote_external_id TEXT NOT NULL DEFAULT '',
    local_snapshot     TEXT NOT NULL,
    remote_snapshot    TEXT NOT NULL,
    detected_at        TEXT NOT NULL,
    resolution         TEXT NOT NULL DEFAULT '',
    resolved_at        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_conflicts_pending
    ON sync_conflicts (user_id) WHERE resolution = '';

CREATE TABLE IF NOT EXISTS sync_runs (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id            TEXT    NOT NULL,
    started_at         TEXT    NOT NULL,
    finished_at        TEXT    NOT NULL,
    success            INTEGER NOT NULL,
    events_processed   INTEGER NOT NULL DEFAULT 0,
    events_created     INTEGER NOT NULL DEFAULT 0,
    events_updated     INTEGER NOT NULL DEFAULT 0,
    events_deleted     INTEGER NOT NULL DEFAULT 0,
    conflicts_detected INTEGER NOT NULL DEFAULT 0,
    errors             TEXT    NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_runs_user ON sync_runs (user_id, id);

CREATE TABLE IF NOT EXISTS sync_preferences (
    user_id           TEXT    PRIMARY KEY,
    sync_enabled      INTEGER NOT NULL DEFAULT 0,
    frequency_minutes INTEGER NOT NULL DEFAULT 30,
    direction         TEXT    NOT NULL DEFAULT 'bidirectional',
    calendar_id       TEXT    NOT NULL DEFAULT '',
    sync_token        TEXT    NOT NULL DEFAULT '',
    updated_at        TEXT    NOT NULL
);
`

// Store is the SQLite-backed repository for all sync state.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the database:
// ~/.local/share/hearthsync/hearthsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "hearthsync", "hearthsync.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so row scanners can be reused.
type scanner interface {
	Scan(dest ...any) error
}

// timeLayout pads fractional seconds to a fixed nine digits. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ordering within a second
// ("...00.12Z" sorts above "...00.123Z"); updated_at comparisons in SQL are
// string comparisons, so the stored form must sort like the instant it names.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil
	}
	return &t
}
