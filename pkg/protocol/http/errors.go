package http

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorType int

const (
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeHTTP
	ErrorTypeValidation
	ErrorTypeTimeout
)

type HTTPError struct {
	Type      ErrorType
	Operation string
	URL       string
	Status    int
	Err       error
}

// NewHTTPNetworkError wraps a transport failure. Timeouts get their own type.
func NewHTTPNetworkError(op, url string, err error) *HTTPError {
	t := ErrorTypeNetwork

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		t = ErrorTypeTimeout
	}

	return &HTTPError{Type: t, Operation: op, URL: url, Err: err}
}

// NewHTTPStatusError wraps a non-success response status.
func NewHTTPStatusError(op, url string, status int, err error) *HTTPError {
	return &HTTPError{Type: ErrorTypeHTTP, Operation: op, URL: url, Status: status, Err: err}
}

func (e *HTTPError) Error() string {
	switch e.Type {
	case ErrorTypeHTTP:
		return fmt.Sprintf("HTTP error during %s for %s: status %d: %v",
			e.Operation, e.URL, e.Status, e.Err)
	case ErrorTypeNetwork:
		return fmt.Sprintf("network error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	case ErrorTypeTimeout:
		return fmt.Sprintf("timeout during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	default:
		return fmt.Sprintf("error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	}
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusCode returns the response status for ErrorTypeHTTP errors and 0 otherwise.
func (e *HTTPError) StatusCode() int {
	if e.Type != ErrorTypeHTTP {
		return 0
	}

	return e.Status
}

// retryable reports whether the error came from the connection rather than the server.
func (e *HTTPError) retryable() bool {
	return e.Type == ErrorTypeNetwork || e.Type == ErrorTypeTimeout
}
