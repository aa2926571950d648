// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow the service layer to tell
// failure scenarios apart without inspecting driver errors. For example,
// ErrDuplicate signals that a unique key already holds the row being
// inserted, while ErrNoChange reports that a predicate-guarded update
// matched no row.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique key, such
// as a second session for the same template and start time or a second
// issuance for the same idempotency key.
var ErrDuplicate = errors.New("duplicate")

// ErrNoChange indicates that a conditional UPDATE matched no row. Callers
// re-read the row to learn which predicate failed.
var ErrNoChange = errors.New("no change")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as linking a ticket of one academy to a class of
// another. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
