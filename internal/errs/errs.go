// Package errs defines the error-kind taxonomy shared across SyncKit's
// components (spec §7). Rather than one Go type per kind, every failure
// wraps into a single Error carrying a Kind, mirroring the teacher repo's
// habit of wrapping with fmt.Errorf("...: %w", err) instead of building a
// type hierarchy per error.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds named in spec §7.
type Kind int

const (
	NotInitialized Kind = iota
	OutOfRange
	InvalidArgument
	Unauthorized
	QueueFull
	StorageFailure
	TransportFailure
	ProtocolError
)

func (k Kind) String() string {
	switch k {
	case NotInitialized:
		return "NotInitialized"
	case OutOfRange:
		return "OutOfRange"
	case InvalidArgument:
		return "InvalidArgument"
	case Unauthorized:
		return "Unauthorized"
	case QueueFull:
		return "QueueFull"
	case StorageFailure:
		return "StorageFailure"
	case TransportFailure:
		return "TransportFailure"
	case ProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// Error is the single error type used throughout SyncKit.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a SyncKit error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
