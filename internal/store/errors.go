package store

import "errors"

// Sentinel errors returned by store operations. Callers match them with
// [errors.Is].
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved is returned when resolving a conflict that already
	// carries a resolution. Resolved conflicts are immutable.
	ErrAlreadyResolved = errors.New("conflict already resolved")
)
