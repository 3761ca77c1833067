// Package repository defines error types that are reused across multiple
// repositories and the services built on them. Handlers compare against
// these sentinels with errors.Is to pick a response status; callers wrap
// them with fmt.Errorf("...: %w") to add context.
package repository

import "errors"

// ErrIntegrity is returned when a write would violate a data invariant,
// such as creating a revision for a script that does not exist.
var ErrIntegrity = errors.New("integrity violation")

// ErrChainBroken is returned when the revision chain of a script cannot be
// walked from the current revision back to revision 1.
var ErrChainBroken = errors.New("revision chain broken")

// ErrDecode is returned when stored revision content cannot be decoded.
var ErrDecode = errors.New("stored content unreadable")

// ErrEditorConflict is returned when another client already holds the
// editor lock of a show.
var ErrEditorConflict = errors.New("editor lock held by another client")

// ErrIntervalConflict is returned when an interval is already open for the
// live session.
var ErrIntervalConflict = errors.New("interval already open")

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoScript is returned when a live session is started for a show
// without a script that has a current revision.
var ErrNoScript = errors.New("show has no script revision")

// ErrSessionActive is returned when a show already has a running session.
var ErrSessionActive = errors.New("show session already active")

// ErrSessionEnded is returned when a mutation targets a session that is no
// longer live. Position updates treat it as a discard.
var ErrSessionEnded = errors.New("show session not live")

// ErrForbidden is returned when the caller attempts an operation
// they hold no role for. Handlers should translate this into an HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot proceed because of the
// current state, such as editing a script during a live session or
// deleting the first revision. Handlers translate this into an HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when registering an address already in use.
var ErrEmailExists = errors.New("email already exists")
