// Package apperr holds the error taxonomy shared by the tool, reminder and
// summary layers. Every error carries a Code and a plain-language Message
// that is safe to show in chat.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeConfiguration Code = "CONFIGURATION"
	CodeValidation    Code = "VALIDATION"
	CodeNotFound      Code = "NOT_FOUND"
	CodeDelivery      Code = "DELIVERY"
	CodeDuplicate     Code = "DUPLICATE"
	CodeUnsupported   Code = "UNSUPPORTED"
	CodeInternal      Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity, e.g. NotFound("reminder", id).
func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Delivery(err error) *Error {
	return &Error{Code: CodeDelivery, Message: "failed to deliver message", Err: err}
}

func Duplicate(format string, args ...any) *Error {
	return &Error{Code: CodeDuplicate, Message: fmt.Sprintf(format, args...)}
}

func Unsupported(format string, args ...any) *Error {
	return &Error{Code: CodeUnsupported, Message: fmt.Sprintf(format, args...)}
}

func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// Is reports whether err is, or wraps, an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// UserMessage turns any error into text fit for a chat reply.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeValidation, CodeNotFound, CodeUnsupported:
			return e.Message
		case CodeDelivery:
			return "The message could not be delivered. It will be retried."
		case CodeConfiguration:
			return "The assistant is not configured correctly."
		}
	}
	return "Something went wrong. Please try again later."
}
