// Package errors defines the error taxonomy shared by the scheduler, the
// connection state machine and the caller API.
//
// InvalidArgument is a programmer error and is never retried. TransportError
// and TimedOut are recoverable by a retry policy up to its bound, after which
// they surface wrapped in a RetriesExhaustedError. Cancelled always surfaces
// immediately.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-exported so callers only need this package for error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors.
var (
	// ErrInvalidArgument indicates a malformed queue or scheduler operation, e.g. a nil task.
	ErrInvalidArgument = New("invalid argument")
	// ErrTimedOut indicates that no terminal callback arrived within the task's window.
	ErrTimedOut = New("timed out")
	// ErrCancelled indicates an explicit caller-initiated abort.
	ErrCancelled = New("cancelled")
	// ErrInterrupted indicates a cooperative interruption of an in-flight task.
	ErrInterrupted = New("interrupted")
	// ErrRetriesExhausted indicates that a retry policy gave up.
	ErrRetriesExhausted = New("retries exhausted")
	// ErrNotConnected indicates an operation that requires a ready connection.
	ErrNotConnected = New("peer not connected")
	// ErrOwnerReleased indicates that the owning entity went away before the task ran.
	ErrOwnerReleased = New("owner released")
	// ErrStopped indicates that the scheduler no longer accepts work.
	ErrStopped = New("scheduler stopped")
)

// InvalidArgument returns an error wrapping ErrInvalidArgument with detail.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// TransportError is a failure reported by the peripheral or the host radio stack.
type TransportError struct {
	Op   string
	Code int
	// LinkLost is set when the code means the underlying link itself is gone.
	LinkLost bool
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString("transport error")
	if e.Op != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Op)
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, ": code %d", e.Code)
	if e.LinkLost {
		sb.WriteString(", link lost")
	}
	return sb.String()
}

// RetriesExhaustedError is returned once a connection attempt runs out of
// retries. History is ordered oldest first.
type RetriesExhaustedError struct {
	Stage    string
	Attempts int
	History  []error
}

func (e *RetriesExhaustedError) Error() string {
	msg := fmt.Sprintf("retries exhausted at stage %s after %d attempts", e.Stage, e.Attempts)
	if n := len(e.History); n > 0 {
		msg += ": last failure: " + e.History[n-1].Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrRetriesExhausted) hold.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// Unwrap exposes the failure history to errors.Is and errors.As.
func (e *RetriesExhaustedError) Unwrap() []error {
	return e.History
}

// IsRetryable reports whether a retry policy may act on err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrCancelled) || Is(err, ErrInvalidArgument) || Is(err, ErrRetriesExhausted) {
		return false
	}
	var te *TransportError
	return As(err, &te) || Is(err, ErrTimedOut)
}
