package retry

import (
	"errors"
	"fmt"
)

// Reason is a machine-checkable classification of a provider failure.
type Reason int

const (
	ReasonUnknown Reason = iota
	// ReasonApiNotEnabled is reported while a cloud API is still being
	// enabled for a project shortly after first use.
	ReasonApiNotEnabled
	ReasonAlreadyExists
	ReasonPermissionDenied
	ReasonNotFound
	// ReasonTimeout is a transport timeout of the call itself.
	ReasonTimeout
	// ReasonConnectionRefused is reported while the remote side is
	// not accepting connections yet.
	ReasonConnectionRefused
)

var reasonNames = map[Reason]string{
	ReasonUnknown:           "Unknown",
	ReasonApiNotEnabled:     "ApiNotEnabled",
	ReasonAlreadyExists:     "AlreadyExists",
	ReasonPermissionDenied:  "PermissionDenied",
	ReasonNotFound:          "NotFound",
	ReasonTimeout:           "Timeout",
	ReasonConnectionRefused: "ConnectionRefused",
}

// String returns the reason name.
func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// ReasonError is an error tagged with a Reason.
type ReasonError struct {
	Reason Reason
	// Op describes the failed operation.
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ReasonError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReasonError) Unwrap() error {
	return e.Err
}

// NewReasonError creates a tagged error.
func NewReasonError(reason Reason, op string, err error) error {
	return &ReasonError{Reason: reason, Op: op, Err: err}
}

// ReasonOf returns the reason of the first ReasonError in the err chain,
// ReasonUnknown if there is none.
func ReasonOf(err error) Reason {
	var reasonErr *ReasonError
	if errors.As(err, &reasonErr) {
		return reasonErr.Reason
	}
	return ReasonUnknown
}

// OnReasons returns a classifier accepting errors tagged with one of reasons.
func OnReasons(reasons ...Reason) func(error) bool {
	return func(err error) bool {
		got := ReasonOf(err)
		if got == ReasonUnknown {
			return false
		}
		for _, reason := range reasons {
			if got == reason {
				return true
			}
		}
		return false
	}
}

// OnType returns a classifier accepting errors which have a *T in the chain.
func OnType[T error]() func(error) bool {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}
