package store

import "errors"

// Sentinel errors the gateway surfaces; callers map these to the router's
// {validation, auth, conflict, not-found, state, transient, internal} kinds.
var (
	// ErrNotFound covers unknown user/match ids and unknown usernames.
	ErrNotFound = errors.New("store: not found")
	// ErrUniqueViolation covers a duplicate username on insert.
	ErrUniqueViolation = errors.New("store: unique violation")
	// ErrTransient covers a store operation that failed for a reason a
	// retry might clear (busy database, closed connection, timeout).
	ErrTransient = errors.New("store: transient failure")
)
