// Package models holds the data types shared across the driver: steps,
// results, and the structured error type every component returns through.
package models

import "fmt"

// ErrorKind classifies a DriverError. Kinds are named, not typed, per the
// error-handling design: callers branch on Kind, never on the underlying Go
// type.
type ErrorKind string

const (
	ErrConnection       ErrorKind = "CONNECTION"
	ErrNavigation       ErrorKind = "NAVIGATION"
	ErrTimeout          ErrorKind = "TIMEOUT"
	ErrElementNotFound  ErrorKind = "ELEMENT_NOT_FOUND"
	ErrStaleElement     ErrorKind = "STALE_ELEMENT"
	ErrPageCrashed      ErrorKind = "PAGE_CRASHED"
	ErrContextDestroyed ErrorKind = "CONTEXT_DESTROYED"
	ErrStepValidation   ErrorKind = "STEP_VALIDATION"
	ErrDiscovery        ErrorKind = "DISCOVERY"
	ErrProtocol         ErrorKind = "PROTOCOL"
)

// DriverError is the error type returned by every component in the driver.
// It carries a Kind for callers to switch on, a human message, the original
// wrapped error (if any), and kind-specific structured fields.
type DriverError struct {
	Kind     ErrorKind
	Message  string
	Err      error
	Selector string
	Timeout  string // formatted duration; zero value means "not set"
	ObjectID string
	Op       string // the remote call or wait descriptor that failed
	Blocked  string // selector/descriptor of whatever is blocking an action
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a DriverError of the given kind.
func NewDriverError(kind ErrorKind, message string, err error) *DriverError {
	return &DriverError{Kind: kind, Message: message, Err: err}
}

// WithSelector attaches a selector and returns the same error for chaining.
func (e *DriverError) WithSelector(sel string) *DriverError {
	e.Selector = sel
	return e
}

// WithOp attaches an operation descriptor and returns the same error.
func (e *DriverError) WithOp(op string) *DriverError {
	e.Op = op
	return e
}

// WithObjectID attaches a remote object id and returns the same error.
func (e *DriverError) WithObjectID(id string) *DriverError {
	e.ObjectID = id
	return e
}

// WithBlocked attaches a blocking-node descriptor and returns the same error.
func (e *DriverError) WithBlocked(b string) *DriverError {
	e.Blocked = b
	return e
}

// IsKind reports whether err is, or wraps, a *DriverError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	de := AsDriverError(err)
	return de != nil && de.Kind == kind
}

// AsDriverError walks err's Unwrap chain looking for a *DriverError.
func AsDriverError(err error) *DriverError {
	for err != nil {
		if de, ok := err.(*DriverError); ok {
			return de
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// staleObjectMessages is the fixed vocabulary of remote error messages that
// are normalized to ErrStaleElement rather than propagated as ErrProtocol.
var staleObjectMessages = []string{
	"Could not find object with given id",
	"Object reference not found",
	"Cannot find context with specified id",
	"Node with given id does not belong to the document",
	"No node with given id found",
	"Object is not available",
	"No object with given id",
	"Object with given id not found",
}

// IsStaleObjectMessage reports whether msg matches the fixed vocabulary of
// remote messages that indicate a stale object/handle.
func IsStaleObjectMessage(msg string) bool {
	for _, m := range staleObjectMessages {
		if m == msg {
			return true
		}
	}
	return false
}
