// Package llmerrors classifies provider failures so callers can branch on kind instead of text.
package llmerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the category of a provider failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents 429s and quota exhaustion.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents 5xx, EOF, connection resets and timeouts.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call with nothing usable in it.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents 401/403 and bad API keys.
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed or oversized requests.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified provider error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// FromStatus classifies by HTTP status, falling back to the error text when status is 0.
func FromStatus(statusCode int, cause error) *Error {
	t := ErrorTypeUnknown
	switch {
	case statusCode == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		t = ErrorTypeAuth
	case statusCode == http.StatusBadRequest || statusCode == http.StatusRequestEntityTooLarge:
		t = ErrorTypeBadPrompt
	case statusCode >= http.StatusInternalServerError:
		t = ErrorTypeTransient
	case statusCode == 0 && cause != nil:
		t = classifyText(cause.Error())
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Type: t, Err: cause, Message: msg, StatusCode: statusCode}
}

func classifyText(s string) ErrorType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "rate limit"), strings.Contains(s, "429"), strings.Contains(s, "quota"):
		return ErrorTypeRateLimit
	case strings.Contains(s, "unauthorized"), strings.Contains(s, "invalid api key"), strings.Contains(s, "401"):
		return ErrorTypeAuth
	case strings.Contains(s, "eof"), strings.Contains(s, "connection reset"),
		strings.Contains(s, "timeout"), strings.Contains(s, "connection refused"):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}
