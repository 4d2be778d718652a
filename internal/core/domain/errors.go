package domain

import (
	"errors"
	"fmt"
)

// Error is a segmentation-layer error carrying a stable code.
// Codes follow SM-<AREA>-<NNNN>; the numeric part mirrors HTTP status classes.
type Error struct {
	Code    string // e.g. "SM-OSEG-4040"
	Message string
	Details string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(format string, args ...any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: fmt.Sprintf(format, args...),
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsError reports whether err is an *Error with the given code.
// An empty code matches any *Error.
func IsError(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// ErrorCode extracts the code from err, or "" if err is not an *Error.
func ErrorCode(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Transport errors (NET, PROTO)
// ============================================================================

var (
	// ErrNetwork indicates a connection was refused, reset or closed.
	ErrNetwork = NewError("SM-NET-5030", "network error")

	// ErrTimeout indicates no response arrived before the deadline.
	ErrTimeout = NewError("SM-NET-5040", "timeout")

	// ErrProtocol indicates a malformed or unexpected response line.
	ErrProtocol = NewError("SM-PROTO-5020", "protocol error")
)

// ============================================================================
// Object segmentation errors (OSEG)
// ============================================================================

var (
	// ErrNotFound indicates the key is absent from the backing store.
	ErrNotFound = NewError("SM-OSEG-4040", "object not found")

	// ErrLookupFailed indicates a lookup exhausted its retries.
	ErrLookupFailed = NewError("SM-OSEG-5040", "lookup failed")

	// ErrStaleWrite indicates a write lost to a newer epoch.
	ErrStaleWrite = NewError("SM-OSEG-4090", "stale write")

	// ErrClosed indicates the component has been shut down.
	ErrClosed = NewError("SM-OSEG-5031", "closed")
)

// ============================================================================
// Coordinate segmentation errors (CSEG)
// ============================================================================

var (
	// ErrOutOfBounds indicates a point outside the world volume.
	ErrOutOfBounds = NewError("SM-CSEG-4000", "point out of world bounds")

	// ErrLeafNotFound indicates an unknown tree path.
	ErrLeafNotFound = NewError("SM-CSEG-4040", "leaf not found")

	// ErrTreeChanged indicates the tree moved on while a transition was prepared.
	ErrTreeChanged = NewError("SM-CSEG-4090", "tree changed concurrently")

	// ErrResourceExhausted indicates a split found no free server.
	ErrResourceExhausted = NewError("SM-CSEG-5030", "no free server available")

	// ErrHandoffFailed indicates new owners did not confirm in time.
	ErrHandoffFailed = NewError("SM-CSEG-5040", "handoff failed")

	// ErrNotLeader indicates a transition was submitted to a raft follower.
	ErrNotLeader = NewError("SM-CSEG-5031", "not the cluster leader")
)

// ============================================================================
// Configuration errors (CONF)
// ============================================================================

// ErrConfig indicates a fatal configuration problem.
var ErrConfig = NewError("SM-CONF-4000", "configuration error")
