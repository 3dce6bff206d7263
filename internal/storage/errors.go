package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write collides with existing state, such as
// a duplicate email on sign-up or a duplicate rule name.
var ErrConflict = errors.New("storage: conflict")

// Idempotency sentinels. Handlers map these to distinct 409 responses.
var (
	// ErrIdempotencyInProgress means another request holding the same key
	// has started but not finished.
	ErrIdempotencyInProgress = errors.New("storage: idempotent request in progress")

	// ErrIdempotencyPayloadMismatch means the key was reused with a
	// different request body.
	ErrIdempotencyPayloadMismatch = errors.New("storage: idempotency key reused with different payload")
)
