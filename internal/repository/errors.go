// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and services to distinguish between different failure
// scenarios. For example, ErrForbidden indicates that the current user
// is not authorized to perform an operation on a resource owned by
// someone else, while ErrNotAvailable signals that a listing cannot be
// settled or reserved because another buyer got there first.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update or delete cannot be
// performed because of conflicting state, such as editing a listing
// that has already been sold. Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrNotAvailable is returned when a listing fails the availability
// guard at settlement or reservation time: it is sold, or reserved by
// another user whose hold has not expired. Handlers should translate
// this into an HTTP 409 response.
var ErrNotAvailable = errors.New("listing not available")

// ErrEmailExists is returned by user creation when the email is
// already registered.
var ErrEmailExists = errors.New("email already exists")
