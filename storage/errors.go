package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a key has no record.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("record already exists")
)
