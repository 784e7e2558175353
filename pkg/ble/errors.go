package ble

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure surfaced by the library.
type ErrorKind int

const (
	Other ErrorKind = iota
	AdapterUnavailable
	PermissionDenied
	NotConnected
	ConnectionFailed
	Timeout
	ReadNotSupported
	WriteNotSupported
	// OperationInProgress also covers operations rejected by policy, such as a second scan.
	OperationInProgress
	NotFound
	NotSupported
)

var kindNames = map[ErrorKind]string{
	Other:               "other",
	AdapterUnavailable:  "adapter unavailable",
	PermissionDenied:    "permission denied",
	NotConnected:        "not connected",
	ConnectionFailed:    "connection failed",
	Timeout:             "timeout",
	ReadNotSupported:    "read not supported",
	WriteNotSupported:   "write not supported",
	OperationInProgress: "operation in progress",
	NotFound:            "not found",
	NotSupported:        "not supported",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type returned by public operations.
// Msg carries native text and Code a native numeric code when one exists.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Code int
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	switch {
	case e.Msg != "":
		s += ": " + e.Msg
	case e.Err != nil:
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes the native cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind
var (
	ErrOther               = &Error{Kind: Other}
	ErrAdapterUnavailable  = &Error{Kind: AdapterUnavailable}
	ErrPermissionDenied    = &Error{Kind: PermissionDenied}
	ErrNotConnected        = &Error{Kind: NotConnected}
	ErrConnectionFailed    = &Error{Kind: ConnectionFailed}
	ErrTimeout             = &Error{Kind: Timeout}
	ErrReadNotSupported    = &Error{Kind: ReadNotSupported}
	ErrWriteNotSupported   = &Error{Kind: WriteNotSupported}
	ErrOperationInProgress = &Error{Kind: OperationInProgress}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrNotSupported        = &Error{Kind: NotSupported}
)

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err; foreign errors are Other.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
