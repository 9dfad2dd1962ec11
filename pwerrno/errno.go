// Package pwerrno defines the negative-errno error taxonomy shared by every
// layer of the graph engine: negotiation, resource, protocol, realtime and
// lifecycle failures are all represented as a Code plus a wrapped cause.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwerrno

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code is a negative-errno-style result code, mirroring the SPA convention
// that 0 is success, >0 is an async sequence number and <0 is an error.
type Code int

const (
	OK Code = 0

	// Negotiation
	EINVAL  Code = -22 // no common format
	ENOTSUP Code = -95 // no common buffers
	EBUSY   Code = -16 // negotiation in progress

	// Resource
	ENOMEM Code = -12 // out of memory
	EMFILE Code = -24 // too many open files
	ENOENT Code = -2  // missing plugin/factory/memory id

	// Protocol
	EPIPE   Code = -32 // peer closed
	EBADMSG Code = -74 // malformed payload
	EPROTO  Code = -71 // version mismatch

	// Realtime
	EPERM      Code = -1   // priority elevation denied
	ETIMEDOUT  Code = -110 // cycle deadline missed (xrun)

	// Lifecycle
	ESTALE Code = -116 // observed in a later generation
	EEXIST Code = -17  // double registration
	EACCES Code = -13  // permission bits reject binding
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case EINVAL:
		return "EINVAL"
	case ENOTSUP:
		return "ENOTSUP"
	case EBUSY:
		return "EBUSY"
	case ENOMEM:
		return "ENOMEM"
	case EMFILE:
		return "EMFILE"
	case ENOENT:
		return "ENOENT"
	case EPIPE:
		return "EPIPE"
	case EBADMSG:
		return "EBADMSG"
	case EPROTO:
		return "EPROTO"
	case EPERM:
		return "EPERM"
	case ETIMEDOUT:
		return "ETIMEDOUT"
	case ESTALE:
		return "ESTALE"
	case EEXIST:
		return "EEXIST"
	case EACCES:
		return "EACCES"
	default:
		return fmt.Sprintf("errno(%d)", int(c))
	}
}

// Error is a structured error carrying a Code plus free-form context, wrapped
// through cockroachdb/errors so callers get stack traces at construction and
// errors.Is/As keep working against the sentinel Codes below.
type Error struct {
	Code    Code
	Op      string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a new Error for op, wrapping cause (which may be nil) with a
// stack trace via cockroachdb/errors.
func New(code Code, op string, cause error) *Error {
	if cause != nil {
		cause = errors.Wrap(cause, op)
	}
	return &Error{Code: code, Op: op, cause: cause}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or OK if err is nil, or EINVAL if err
// does not carry a structured Code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINVAL
}
