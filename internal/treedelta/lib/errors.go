package lib

import "errors"

var (
	// ErrObjectNotFound is returned for hashes that are neither packed nor pending.
	ErrObjectNotFound = errors.New("object not found")

	// ErrRevisionNotFound is returned when no revision matches an identifier.
	ErrRevisionNotFound = errors.New("revision not found")
)
