package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when the context is cancelled before a request
// completes or while waiting for a retry.
var ErrCancelled = errors.New("request cancelled")

// IsCancelled reports whether err stems from cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// TransportError is returned when the transport failed to produce a
// response.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseError is the terminal failure of a request. It keeps the request
// and the response status so the failure can be reproduced.
type ResponseError struct {
	Request *Request

	// StatusCode is 0 when no response was received.
	StatusCode int

	// Status is the status line text, e.g. "404 Not Found".
	Status string

	// Err is the underlying cause: a *TransportError, a
	// *schema.ValidationError, or nil for an unexpected status code.
	Err error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Status != "":
		return fmt.Sprintf("unexpected response: %s", e.Status)
	default:
		return fmt.Sprintf("unexpected response: %d", e.StatusCode)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the request as a curl command and, when a response was
// received, its status line.
func (e *ResponseError) Diagnostic() []string {
	var lines []string
	if e.Request != nil {
		lines = append(lines, e.Request.Curl())
	}
	if e.StatusCode != 0 {
		status := e.Status
		if status == "" {
			status = fmt.Sprintf("%d", e.StatusCode)
		}
		if !strings.HasPrefix(status, fmt.Sprintf("%d", e.StatusCode)) {
			status = fmt.Sprintf("%d %s", e.StatusCode, status)
		}
		lines = append(lines, "HTTP "+status)
	}
	return lines
}
