package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrService covers every external call failure: no response, an
	// unparseable payload, or a payload that does not fit the expected shape.
	ErrService        = errors.New("service error")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrState          = errors.New("invalid state")
	ErrPartialFailure = errors.New("partial failure")
	ErrOverflow       = errors.New("packing overflow")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrService
	}
	if err != nil {
		return &Error{marker: marker, stage: stage, op: operation, message: message, detail: detail, cause: err}
	}
	return &Error{marker: marker, stage: stage, op: operation, message: message, detail: detail}
}

// Error carries the marker and stage context applied by Wrap.
type Error struct {
	marker  error
	stage   string
	op      string
	message string
	detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.marker, e.detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker, e.detail)
}

// Unwrap exposes both the marker and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.cause}
}

// ErrorDetails is the caller-facing summary of a wrapped error.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Cause     string
}

// Details extracts the context recorded by Wrap. Errors that were not built by
// Wrap report their full text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var wrapped *Error
	if !errors.As(err, &wrapped) {
		return ErrorDetails{Kind: Kind(err), Message: strings.TrimSpace(err.Error())}
	}
	details := ErrorDetails{
		Kind:      Kind(err),
		Stage:     wrapped.stage,
		Operation: wrapped.op,
		Message:   strings.TrimSpace(wrapped.message),
	}
	if wrapped.cause != nil {
		details.Cause = strings.TrimSpace(wrapped.cause.Error())
	}
	if details.Message == "" {
		details.Message = details.Cause
	}
	return details
}

// Kind names the marker an error carries.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrService):
		return "service"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	default:
		return "unknown"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
