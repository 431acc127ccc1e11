package capture

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported to the result delegate.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindStorage is a failure writing or packaging captured images.
	KindStorage
	// KindTransport is a network failure in any submission step.
	KindTransport
	// KindServerRejected is a well-formed non-success response.
	KindServerRejected
	// KindDetector is an observer failure. It never terminates a session.
	KindDetector
	// KindCancelled means the session was torn down before completion.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindStorage:
		return "storage_error"
	case KindTransport:
		return "transport_error"
	case KindServerRejected:
		return "server_rejected"
	case KindDetector:
		return "detector_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified capture failure.
type Error struct {
	Kind ErrorKind
	Step string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError wraps err with a kind and the step it failed in.
func NewError(kind ErrorKind, step string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var capErr *Error
	if errors.As(err, &capErr) {
		return capErr.Kind
	}
	return KindUnknown
}

var (
	// ErrNoFrame is returned when a capture is attempted without a frame buffer.
	ErrNoFrame = errors.New("reference frame unavailable")
	// ErrSessionClosed is returned for operations on a finished session.
	ErrSessionClosed = errors.New("capture session closed")
)
