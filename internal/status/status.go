// Package status carries the error taxonomy shared by both services.
// Domain errors are classified by Code so they can be mapped onto RPC
// reply headers and matched with errors.Is at package boundaries.
package status

import (
	"errors"
	"fmt"
)

// Code classifies a failure. The zero value means success.
type Code uint32

const (
	OK Code = iota
	NotFound
	AlreadyExists
	InvalidArgument
	FailedPrecondition
	Unavailable
	Internal
	DeadlineExceeded
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case InvalidArgument:
		return "invalid argument"
	case FailedPrecondition:
		return "failed precondition"
	case Unavailable:
		return "unavailable"
	case Internal:
		return "internal"
	case DeadlineExceeded:
		return "deadline exceeded"
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Error is a coded error. It wraps an optional cause.
type Error struct {
	Code  Code
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes two coded errors match when their codes match, so sentinel
// values like status.Errorf(status.NotFound, "...") compare by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Errorf builds a coded error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an existing error, preserving the chain.
func Wrap(code Code, err error, msg string) *Error {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Msg: msg, cause: err}
}

// CodeOf extracts the code from an error chain. A nil error is OK;
// an uncoded error is Internal.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
