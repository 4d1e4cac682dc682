package errors

import (
	"context"
	"errors"
	"fmt"
)

// DocsearchError is the structured error type for docsearch.
// It carries enough context for logging, API mapping and user presentation.
type DocsearchError struct {
	// Code is the unique error code (e.g., "ERR_107_INVALID_PARAMETER").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the call may succeed through a fallback provider.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DocsearchError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocsearchError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against sentinel values built with New.
func (e *DocsearchError) Is(target error) bool {
	if t, ok := target.(*DocsearchError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DocsearchError) WithDetail(key, value string) *DocsearchError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocsearchError) WithSuggestion(suggestion string) *DocsearchError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DocsearchError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocsearchError {
	return &DocsearchError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocsearchError from an existing error.
func Wrap(code string, err error) *DocsearchError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidParameter creates the validation error returned before any retrieval work starts.
func InvalidParameter(param, message string) *DocsearchError {
	return New(ErrCodeInvalidParameter, message, nil).WithDetail("parameter", param)
}

// ServiceError classifies a failure from an external collaborator.
// Deadline and cancellation errors map to ErrCodeServiceTimeout.
func ServiceError(service string, cause error) *DocsearchError {
	code := ErrCodeServiceUnavailable
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCodeServiceTimeout
	}
	msg := fmt.Sprintf("%s unavailable", service)
	if cause != nil {
		msg = fmt.Sprintf("%s failed: %v", service, cause)
	}
	return New(code, msg, cause).WithDetail("service", service)
}

// CorpusError creates a corpus read error.
func CorpusError(message string, cause error) *DocsearchError {
	return New(ErrCodeCorpusRead, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocsearchError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err, or anything it wraps, is a retryable DocsearchError.
func IsRetryable(err error) bool {
	var de *DocsearchError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsInvalidParameter reports whether err is a parameter validation error.
func IsInvalidParameter(err error) bool {
	return GetCode(err) == ErrCodeInvalidParameter || GetCode(err) == ErrCodeUnknownStrategy
}

// GetCode extracts the error code from a DocsearchError in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var de *DocsearchError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocsearchError in the chain.
func GetCategory(err error) Category {
	var de *DocsearchError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}
