package store

import "errors"

var (
	// ErrNotFound is returned when no item exists at the given key, or the
	// item at the key is past its expiry timestamp.
	ErrNotFound = errors.New("store: item not found")

	// ErrAlreadyExists is returned when a conditional create finds an item
	// already stored under the same key.
	ErrAlreadyExists = errors.New("store: item already exists")

	// ErrConflict is returned when an optimistic version check fails on
	// update. The caller must re-read the item and retry.
	ErrConflict = errors.New("store: item was modified concurrently")

	// ErrInvalidCursor is returned when a pagination cursor is malformed or
	// was issued by a different query shape.
	ErrInvalidCursor = errors.New("store: invalid pagination cursor")

	// ErrThrottled is returned when the table signals capacity exhaustion
	// and internal retries are exhausted.
	ErrThrottled = errors.New("store: request throttled")

	// ErrMalformedKey is returned when key construction or decoding fails.
	// This indicates a programming error and is never retried.
	ErrMalformedKey = errors.New("store: malformed key")
)
