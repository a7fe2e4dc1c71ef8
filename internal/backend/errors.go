package backend

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned without any I/O when the circuit is open or the
// backend failed to initialize earlier in the run.
var ErrUnavailable = errors.New("backend unavailable")

// InitializationError means the backend's session could not be created. The
// instance stays failed for the rest of its life.
type InitializationError struct {
	Backend string
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("backend %s: initialize: %v", e.Backend, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// TransportError is a timeout or network failure. The Guard retries it before
// counting it against the breaker.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend %s: %s: transport: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BlockedError means the origin served an anti-bot page.
type BlockedError struct {
	Backend string
	Op      string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("backend %s: %s: blocked: %s", e.Backend, e.Op, e.Reason)
}

func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
