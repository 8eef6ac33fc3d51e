package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies which part of the provider setup failed.
type ErrorType string

const (
	ErrorTypeNone     ErrorType = ""
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeRate     ErrorType = "rate_limit"
	ErrorTypeCircuit  ErrorType = "circuit_open"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// classification is one row of the ClassifyError table. The first row whose
// match function returns true wins.
type classification struct {
	match     func(raw, lower string) bool
	errType   ErrorType
	message   string
	retryable bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var classifications = []classification{
	{
		match:   func(raw, lower string) bool { return containsAny(raw, "401") || containsAny(lower, "unauthorized", "invalid api key", "authentication_error") },
		errType: ErrorTypeAuth, message: "authentication failed",
	},
	{
		match: func(raw, lower string) bool {
			return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist", "not_found_error")
		},
		errType: ErrorTypeModel, message: "model not found",
	},
	{
		match:   func(raw, lower string) bool { return strings.Contains(raw, "404") },
		errType: ErrorTypeEndpoint, message: "endpoint not found",
	},
	{
		match:   func(raw, lower string) bool { return containsAny(lower, "connection refused", "no such host") },
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		match:   func(raw, lower string) bool { return containsAny(lower, "timeout", "deadline exceeded") },
		errType: ErrorTypeEndpoint, message: "request timeout", retryable: true,
	},
	{
		match:   func(raw, lower string) bool { return strings.Contains(raw, "429") || containsAny(lower, "rate limit", "rate_limit_error") },
		errType: ErrorTypeRate, message: "rate limited", retryable: true,
	},
	{
		match:   func(raw, lower string) bool { return strings.Contains(raw, "529") || strings.Contains(lower, "overloaded") },
		errType: ErrorTypeEndpoint, message: "provider overloaded", retryable: true,
	},
	{
		match:   func(raw, lower string) bool { return containsAny(raw, "500", "502", "503", "504") },
		errType: ErrorTypeEndpoint, message: "server error", retryable: true,
	},
}

// ClassifyError categorizes an error and returns a structured Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	statusCode := 0
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529} {
		if strings.Contains(raw, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	for _, c := range classifications {
		if c.match(raw, lower) {
			classified := NewError(c.errType, c.message, c.retryable, err)
			classified.StatusCode = statusCode
			return classified
		}
	}

	classified := NewError(ErrorTypeUnknown, "llm error", false, err)
	classified.StatusCode = statusCode
	return classified
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
