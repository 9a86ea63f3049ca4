package gateway

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a 2xx body cannot be decoded or fails validation.
var ErrMalformedResponse = errors.New("gateway: malformed response")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway [%s]: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway [%s]: HTTP %d", e.Endpoint, e.StatusCode)
}

// IsServerError returns true for 5xx responses.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ReplyError is a 2xx response whose JSON body carries an error field.
// Answer holds the user-facing text the backend sent alongside, if any.
type ReplyError struct {
	Endpoint   string
	Message    string
	Answer     string
	Transcript string
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("gateway [%s]: backend error: %s", e.Endpoint, e.Message)
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	var replyErr *ReplyError
	switch {
	case errors.As(err, &apiErr):
		return "http"
	case errors.As(err, &replyErr):
		return "reply"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "transport"
	}
}
