// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned when a stored event name does not match any
// known variant of its aggregate type.
var ErrUnknownEvent = errors.New("unknown event name")

// ErrorCode classifies command and query failures for API responses.
type ErrorCode string

const (
	CodeBadRequest ErrorCode = "bad_request"
	CodeNotFound   ErrorCode = "not_found"
	CodeConflict   ErrorCode = "conflict"
	CodeInternal   ErrorCode = "internal"
)

// CommandError is the structured failure surfaced to API callers.
type CommandError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	cause error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.cause
}

func BadRequest(format string, args ...any) *CommandError {
	return &CommandError{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *CommandError {
	return &CommandError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *CommandError {
	return &CommandError{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...any) *CommandError {
	return &CommandError{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error so callers can still match it
// with errors.Is while API responses carry only code and message.
func Wrap(code ErrorCode, cause error, message string) *CommandError {
	return &CommandError{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the classification of err, defaulting to internal for
// unclassified failures so storage detail never leaks to callers.
func CodeOf(err error) ErrorCode {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	return CodeInternal
}
