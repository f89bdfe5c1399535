package mesh

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks a failed store read, write or watch. The
	// affected operation is abandoned, not retried.
	ErrStoreUnavailable = errors.New("signaling store unavailable")
	// ErrHandshakeFailed marks a failed offer/answer creation or
	// description application; the session moves to Failed.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrTransportFailed marks connectivity lost after Connected.
	ErrTransportFailed = errors.New("transport failed")
	// ErrMediaUnavailable marks a missing local track kind. A no-op
	// failure for the caller, never a session failure.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrClosed is returned by calls made after hang-up.
	ErrClosed = errors.New("coordinator closed")
)

// Error ties a failure to the operation and peer it belongs to. Failures
// local to one peer never affect other sessions.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func newPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}
