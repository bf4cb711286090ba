package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrEmptyAPIKey is returned when a client is built without any key.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse means the provider answered without any text.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice means the provider returned no candidates.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrNoImages is returned for a vision request without an image.
	ErrNoImages = errors.New("at least one image is required")
	// ErrUnsupportedImage is returned for media types no provider accepts.
	ErrUnsupportedImage = errors.New("unsupported image type")
)

// ErrorType is the provider-independent category of a failed request. It
// decides whether the request is retried and whether the key is rotated.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeAuthentication: the key was rejected. Rotates the key.
	ErrorTypeAuthentication
	// ErrorTypeRateLimit: quota or rate exceeded. Rotates and retries.
	ErrorTypeRateLimit
	// ErrorTypeBadRequest: the provider refused the request as sent, for
	// example an oversized or undecodable image.
	ErrorTypeBadRequest
	// ErrorTypeNotFound: usually a model the key cannot access.
	ErrorTypeNotFound
	// ErrorTypeServerError: 5xx or an overloaded provider. Retried.
	ErrorTypeServerError
	// ErrorTypeContentPolicy: the image or prompt was blocked by safety
	// filters.
	ErrorTypeContentPolicy
	// ErrorTypeNetwork: the request never got a response. Retried.
	ErrorTypeNetwork
	// ErrorTypeTimeout: the deadline passed. Retried.
	ErrorTypeTimeout
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeAuthentication: "authentication",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeBadRequest:     "bad_request",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeServerError:    "server_error",
	ErrorTypeContentPolicy:  "content_policy",
	ErrorTypeNetwork:        "network",
	ErrorTypeTimeout:        "timeout",
}

// String returns the snake_case name used in logs and metric labels.
func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ProviderError is a classified failure from one of the vision providers.
type ProviderError struct {
	Type         ErrorType
	Provider     string
	StatusCode   int
	Message      string
	WrappedError error
}

// Error renders as "provider: type (HTTP n): message: cause", leaving out
// the parts that are empty.
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(e.Type.String())
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.WrappedError != nil {
		b.WriteString(": ")
		b.WriteString(e.WrappedError.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.WrappedError }

// IsRetryable reports whether the same request may succeed if sent again.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	}
	return false
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// classifyStatus maps an HTTP status from provider to a ProviderError.
// message is the provider's own text and may be empty.
func classifyStatus(provider string, status int, message string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case status == http.StatusNotFound:
		errType = ErrorTypeNotFound
	case status == http.StatusRequestTimeout:
		errType = ErrorTypeTimeout
	case status == http.StatusRequestEntityTooLarge:
		errType = ErrorTypeBadRequest
		if message == "" {
			message = "image too large for provider"
		}
	case status >= 400 && status < 500:
		errType = ErrorTypeBadRequest
	case status >= 500:
		errType = ErrorTypeServerError
	default:
		errType = ErrorTypeUnknown
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return NewProviderError(provider, errType, status, message, err)
}

// classifyContext maps context errors. A cancellation is reported as a
// network failure but is never retried, see isRetryable.
func classifyContext(provider string, err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(provider, ErrorTypeTimeout, 0, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(provider, ErrorTypeNetwork, 0, "request canceled", err)
	}
	return NewProviderError(provider, ErrorTypeUnknown, 0, "", err)
}

// shouldRotateKey reports whether another key of the same provider might
// succeed where the current one failed.
func shouldRotateKey(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Type == ErrorTypeAuthentication || pe.Type == ErrorTypeRateLimit
}

// isRetryable treats unclassified errors as transient, except cancellation
// by the caller and an open circuit.
func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return true
}
