package sync

import "errors"

var (
	// ErrNotConfigured is returned when the user has no sync preferences.
	// Fatal to the run; no run-log row is written.
	ErrNotConfigured = errors.New("sync not configured for user")

	// ErrSyncInFlight is returned by manual triggers while a sync for the
	// same user is already running. The trigger is a no-op, not queued.
	ErrSyncInFlight = errors.New("sync already in flight")
)
