// Package outcome collapses raw transport completions into the closed set of
// terminal task outcomes that retry policies key off.
package outcome

import (
	"fmt"
	"time"

	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/transport"
)

// Kind ...
type Kind int

// const ...
const (
	KindSuccess Kind = iota
	KindTransportError
	KindTimedOut
	KindCancelled
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "SUCCESS"
	case KindTransportError:
		return "TRANSPORT_ERROR"
	case KindTimedOut:
		return "TIMED_OUT"
	case KindCancelled:
		return "CANCELLED"
	case KindInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// Codes reported for failures that never reached the radio.
const (
	CodeRejected      = -1
	CodePanic         = -2
	CodeUnknownStatus = -3
)

// linkLostCodes are HCI disconnect reasons, plus the catch-all GATT error
// many stacks report on a dropped link. A failure with one of these codes
// means the link is gone and the connection must start over.
var linkLostCodes = map[int]struct{}{
	0x08: {}, // connection timeout
	0x13: {}, // remote user terminated
	0x16: {}, // terminated by local host
	0x22: {}, // LMP response timeout
	0x3E: {}, // failed to be established
	0x85: {}, // GATT_ERROR
}

// IsLinkLost reports whether code means the underlying link is gone.
func IsLinkLost(code int) bool {
	_, ok := linkLostCodes[code]
	return ok
}

// Outcome is a terminal task result. The concrete types below are the only
// implementations.
type Outcome interface {
	Kind() Kind
	Err() error
	isOutcome()
}

// Success ...
type Success struct {
	Payload []byte
}

// TransportError ...
type TransportError struct {
	Op       transport.Op
	Code     int
	LinkLost bool
}

// TimedOut ...
type TimedOut struct {
	After time.Duration
}

// Cancelled ...
type Cancelled struct {
	Reason error
}

// Interrupted carries how long the task had run before it was stopped.
type Interrupted struct {
	Elapsed time.Duration
}

func (Success) Kind() Kind        { return KindSuccess }
func (TransportError) Kind() Kind { return KindTransportError }
func (TimedOut) Kind() Kind       { return KindTimedOut }
func (Cancelled) Kind() Kind      { return KindCancelled }
func (Interrupted) Kind() Kind    { return KindInterrupted }

func (Success) isOutcome()        {}
func (TransportError) isOutcome() {}
func (TimedOut) isOutcome()       {}
func (Cancelled) isOutcome()      {}
func (Interrupted) isOutcome()    {}

func (Success) Err() error { return nil }

func (o TransportError) Err() error {
	return &errors.TransportError{Op: string(o.Op), Code: o.Code, LinkLost: o.LinkLost}
}

func (o TimedOut) Err() error {
	return fmt.Errorf("%w after %s", errors.ErrTimedOut, o.After)
}

func (o Cancelled) Err() error {
	if o.Reason == nil {
		return errors.ErrCancelled
	}
	if errors.Is(o.Reason, errors.ErrCancelled) {
		return o.Reason
	}
	return fmt.Errorf("%w: %w", errors.ErrCancelled, o.Reason)
}

func (o Interrupted) Err() error {
	return fmt.Errorf("%w after %s", errors.ErrInterrupted, o.Elapsed)
}

// Classify maps a raw transport result to exactly one outcome. The mapping
// depends only on its inputs.
func Classify(op transport.Op, r transport.Result) Outcome {
	switch r.Status {
	case transport.StatusSuccess:
		return Success{Payload: r.Payload}
	case transport.StatusFailure:
		return TransportError{Op: op, Code: r.Code, LinkLost: IsLinkLost(r.Code)}
	case transport.StatusCancelled:
		return Cancelled{}
	case transport.StatusInterrupted:
		return Interrupted{}
	default:
		return TransportError{Op: op, Code: CodeUnknownStatus}
	}
}

// Rejected is the outcome of a request the transport refused to start.
func Rejected(op transport.Op, err error) Outcome {
	var te *errors.TransportError
	if errors.As(err, &te) {
		return TransportError{Op: op, Code: te.Code, LinkLost: te.LinkLost}
	}
	return TransportError{Op: op, Code: CodeRejected}
}

// State maps an outcome to the terminal task state it produces.
func State(o Outcome) models.TaskState {
	switch o.Kind() {
	case KindSuccess:
		return models.TaskStateSucceeded
	case KindTimedOut:
		return models.TaskStateTimedOut
	case KindCancelled:
		return models.TaskStateCancelled
	case KindInterrupted:
		return models.TaskStateInterrupted
	default:
		return models.TaskStateFailed
	}
}

// Retryable reports whether a retry policy may act on o.
func Retryable(o Outcome) bool {
	k := o.Kind()
	return k == KindTransportError || k == KindTimedOut
}
