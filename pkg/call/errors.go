package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/morezero/callcore/pkg/workerpool"
)

// Error codes carried by *Error and by the error detail of a Result.
const (
	CodeRejected         = "REJECTED"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeForbidden        = "FORBIDDEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvocationFailed = "INVOCATION_FAILED"
	CodeServiceNotFound  = "SERVICE_NOT_FOUND"
	CodeMethodNotFound   = "METHOD_NOT_FOUND"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeScheduleRejected = "SCHEDULE_REJECTED"
	CodeTimeout          = "TIMEOUT"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	CodeCancelled        = "CANCELLED"
)

var (
	// ErrRejected matches any error produced by a filter rejection.
	ErrRejected = errors.New("invocation rejected")
	// ErrTimeout is returned when a wait for a result elapses. The invocation
	// itself keeps running.
	ErrTimeout = errors.New("timed out waiting for invocation result")
	// ErrDeadlineExceeded matches the error of an invocation that ran past
	// its own deadline and finished FAILED.
	ErrDeadlineExceeded = errors.New("invocation deadline exceeded")
	// ErrCancelled is returned for invocations cancelled through their Future.
	ErrCancelled = errors.New("invocation cancelled")

	ErrPoolFull   = workerpool.ErrPoolFull
	ErrPoolClosed = workerpool.ErrPoolClosed
)

var retryableCodes = map[string]bool{
	CodeInternal:         true,
	CodeRateLimited:      true,
	CodeScheduleRejected: true,
	CodeTimeout:          true,
	CodeDeadlineExceeded: true,
}

var rejectionCodes = map[string]bool{
	CodeRejected:        true,
	CodeUnauthenticated: true,
	CodeForbidden:       true,
	CodeRateLimited:     true,
}

// ErrorDetail is the wire form of an error inside a Result.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error is a coded invocation error.
type Error struct {
	Code    string
	Message string
	Details any
	Err     error
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches other *Error values by code and the package sentinels by the
// code they correspond to.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRejected:
		return rejectionCodes[e.Code]
	case ErrTimeout:
		return e.Code == CodeTimeout
	case ErrDeadlineExceeded:
		return e.Code == CodeDeadlineExceeded
	case ErrCancelled:
		return e.Code == CodeCancelled
	}
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Retryable reports whether a caller may retry the invocation.
func (e *Error) Retryable() bool {
	return retryableCodes[e.Code]
}

// Detail returns the wire form of the error.
func (e *Error) Detail() *ErrorDetail {
	return &ErrorDetail{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		Retryable: e.Retryable(),
	}
}

// AsError converts any error into an *Error, mapping known sentinels and
// context errors to their codes. Unknown errors become INTERNAL_ERROR.
func AsError(err error) *Error {
	return asError(err, CodeInternal)
}

func asError(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	code := fallback
	switch {
	case errors.Is(err, ErrTimeout):
		code = CodeTimeout
	case errors.Is(err, ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		code = CodeDeadlineExceeded
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		code = CodeCancelled
	case errors.Is(err, ErrPoolFull), errors.Is(err, ErrPoolClosed):
		code = CodeScheduleRejected
	case errors.Is(err, ErrRejected):
		code = CodeRejected
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

func (d *ErrorDetail) toError() *Error {
	if d == nil {
		return nil
	}
	return &Error{Code: d.Code, Message: d.Message, Details: d.Details}
}
