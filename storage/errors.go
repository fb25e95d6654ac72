package storage

import "errors"

var (
	// ErrResultNotFound is returned when a stored test run does not exist
	ErrResultNotFound = errors.New("test run not found")

	// ErrInvalidDedupKey is returned for an empty alert deduplication key
	ErrInvalidDedupKey = errors.New("dedup key cannot be empty")
)
