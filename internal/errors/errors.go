package errors

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidMemoryType   = "INVALID_MEMORY_TYPE"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeStorage             = "STORAGE_ERROR"
)

// TidemarkError is a structured error with a code and actionable suggestion.
type TidemarkError struct {
	Code       string // machine-readable code (e.g. QUOTA_EXCEEDED)
	Message    string // human-readable description
	Suggestion string // actionable fix
	Err        error  // wrapped underlying error
}

// Error implements the error interface.
func (e *TidemarkError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is / errors.As.
func (e *TidemarkError) Unwrap() error {
	return e.Err
}

// New creates a TidemarkError with the given code and message.
func New(code, message string) *TidemarkError {
	return &TidemarkError{Code: code, Message: message}
}

// Newf creates a TidemarkError with a formatted message.
func Newf(code, format string, args ...interface{}) *TidemarkError {
	return &TidemarkError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a TidemarkError wrapping an existing error.
func Wrap(code, message string, err error) *TidemarkError {
	return &TidemarkError{Code: code, Message: message, Err: err}
}

// WithSuggestion returns a copy with the suggestion set.
func (e *TidemarkError) WithSuggestion(suggestion string) *TidemarkError {
	e.Suggestion = suggestion
	return e
}

// Is checks whether target matches this error's code.
func (e *TidemarkError) Is(target error) bool {
	var te *TidemarkError
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// AsCode extracts the TidemarkError code from an error, or "" if not a TidemarkError.
func AsCode(err error) string {
	var te *TidemarkError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return AsCode(err) == code
}

// Suggestion extracts the suggestion from an error, or "" if not a TidemarkError.
func Suggestion(err error) string {
	var te *TidemarkError
	if errors.As(err, &te) {
		return te.Suggestion
	}
	return ""
}
