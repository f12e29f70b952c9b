// Package ioerr defines the typed error kinds every component surfaces
// instead of raw wrapped errors, so the HTTP layer and the scheduler can
// decide what to retry without string-matching error text.
package ioerr

import "fmt"

// Kind is one of the error variants from the error handling design.
type Kind string

const (
	// InsufficientStock is returned from ReserveBatch; carries the
	// deficient line. Never retried automatically.
	InsufficientStock Kind = "INSUFFICIENT_STOCK"
	// LockTimeout is retryable (see Retryable). The HTTP layer does not
	// retry it and answers 504; the scheduler picks the work up again on
	// its next tick.
	LockTimeout Kind = "LOCK_TIMEOUT"
	// GatewayUnreachable means the egress call to the payment gateway
	// never got a response; the attempt is left PENDING.
	GatewayUnreachable Kind = "GATEWAY_UNREACHABLE"
	// GatewayTimeout is GatewayUnreachable's time-bounded sibling.
	GatewayTimeout Kind = "GATEWAY_TIMEOUT"
	// GatewayRejection carries the gateway's own field-level validation
	// errors.
	GatewayRejection Kind = "GATEWAY_REJECTION"
	// StateGuardViolation means a transition was attempted from an
	// incompatible state.
	StateGuardViolation Kind = "STATE_GUARD_VIOLATION"
	// IntegrityViolation means a database check constraint fired;
	// always a programming defect.
	IntegrityViolation Kind = "INTEGRITY_VIOLATION"
	// NotFound is not part of the original error taxonomy but is
	// needed for the admin/query surface's read paths.
	NotFound Kind = "NOT_FOUND"
	// Validation covers malformed caller input, distinct from a state
	// guard violation on an otherwise well-formed request.
	Validation Kind = "VALIDATION"
)

// Error is the single typed variant every component returns. It wraps
// an optional cause and carries structured Details for the envelope in
// SPEC_FULL §6.
type Error struct {
	Kind    Kind
	Message string
	Details []ErrorDetail
	cause   error
}

// ErrorDetail is one structured item of an error_details array, used
// principally for InsufficientStock's per-line deficits.
type ErrorDetail struct {
	Line      string `json:"line,omitempty"`
	Available int64  `json:"available"`
	Requested int64  `json:"requested,omitempty"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no cause and no details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an underlying error, preserving it
// for errors.Is/errors.As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details ...ErrorDetail) *Error {
	out := *e
	out.Details = details
	return &out
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ie, ok := err.(*Error); ok {
			return ie, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Retryable reports whether the kind is transient, so that a later
// attempt can succeed (LockTimeout, and the gateway kinds that the
// scheduler's pull path recovers from). The HTTP layer does not retry
// any kind itself.
func (k Kind) Retryable() bool {
	switch k {
	case LockTimeout, GatewayUnreachable, GatewayTimeout:
		return true
	default:
		return false
	}
}
