package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation marks an out-of-order, duplicate or malformed call:
	// a bug in the driver, never a runtime condition.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrSessionClosed is returned for calls after an edit or report finished.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionAborted is returned for calls after an edit or report aborted.
	ErrSessionAborted = errors.New("session aborted")

	// ErrReceiverFailure wraps every error surfaced by receiver logic.
	ErrReceiverFailure = errors.New("receiver failure")
)

// ReceiverError carries a receiver-side error together with the call that
// produced it. It matches both ErrReceiverFailure and the underlying error.
type ReceiverError struct {
	Op   string
	Path string
	Err  error
}

func (e *ReceiverError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", ErrReceiverFailure, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %q: %v", ErrReceiverFailure, e.Op, e.Path, e.Err)
}

func (e *ReceiverError) Unwrap() []error {
	return []error{ErrReceiverFailure, e.Err}
}
