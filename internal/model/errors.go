package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is a stable, machine-readable failure kind
type ErrorCode string

const (
	CodeValidation       ErrorCode = "VALIDATION_FAILED"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeQueueDisabled    ErrorCode = "QUEUE_DISABLED"
	CodeCooldownActive   ErrorCode = "COOLDOWN_ACTIVE"
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeExternal         ErrorCode = "EXTERNAL_SERVICE"
)

// Error is the domain error returned by queue, reservation and order operations
type Error struct {
	Code    ErrorCode
	Message string
	Err     error

	// CooldownUntil is set for COOLDOWN_ACTIVE errors
	CooldownUntil *time.Time
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrValidation       = &Error{Code: CodeValidation}
	ErrForbidden        = &Error{Code: CodeForbidden}
	ErrQueueDisabled    = &Error{Code: CodeQueueDisabled}
	ErrCooldownActive   = &Error{Code: CodeCooldownActive}
	ErrCapacityExceeded = &Error{Code: CodeCapacityExceeded}
	ErrConflict         = &Error{Code: CodeConflict}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrExternal         = &Error{Code: CodeExternal}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code. A disabled queue is also
// a forbidden admission.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeForbidden && e.Code == CodeQueueDisabled
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func ValidationError(format string, args ...interface{}) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func ForbiddenError(format string, args ...interface{}) error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func QueueDisabledError() error {
	return &Error{Code: CodeQueueDisabled, Message: "waiting queue is disabled"}
}

func CooldownActiveError(until time.Time) error {
	u := until.UTC()
	return &Error{
		Code:          CodeCooldownActive,
		Message:       fmt.Sprintf("rejoin cooldown active until %s", u.Format(time.RFC3339)),
		CooldownUntil: &u,
	}
}

func CapacityExceededError(capacity int) error {
	return &Error{Code: CodeCapacityExceeded, Message: fmt.Sprintf("waiting queue is full (capacity %d)", capacity)}
}

func ConflictError(format string, args ...interface{}) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...interface{}) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func ExternalServiceError(err error, format string, args ...interface{}) error {
	return &Error{Code: CodeExternal, Message: fmt.Sprintf(format, args...), Err: err}
}
