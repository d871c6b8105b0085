package delta

import "errors"

var (
	// ErrMalformedDelta is returned when a window references data outside its
	// views or does not produce exactly its declared target length.
	ErrMalformedDelta = errors.New("malformed delta")

	// ErrChecksumMismatch means reconstructed content does not match the
	// checksum it was declared with. It points at a codec or transport bug,
	// or at content that changed underneath the edit.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)
