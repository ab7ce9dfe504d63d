package domain

import "errors"

var (
	// ErrPermissionDenied carries the exact message surfaced to callers.
	ErrPermissionDenied = errors.New("Permission denied")

	// ErrInvalidID rejects persistence of an item without an identifier.
	ErrInvalidID = errors.New("invalid id")
)
