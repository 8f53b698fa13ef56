package store

import "errors"

var (
	// ErrNotFound is returned when no item exists for the key.
	ErrNotFound = errors.New("knowlio: item not found")

	// ErrDuplicateValue is returned when a unique constraint is held by another entity.
	ErrDuplicateValue = errors.New("knowlio: duplicate value for unique field")
)
