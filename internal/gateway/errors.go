package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest is a 4xx answer; repeating the request will not help.
	ErrBadRequest = errors.New("gateway rejected request")
	// ErrUnavailable is a 5xx answer; the caller may retry later with the same key.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrTimeout means every attempt timed out.
	ErrTimeout = errors.New("gateway request timed out")
	// ErrService covers transport failures and undecodable responses.
	ErrService = errors.New("gateway service error")
)

// APIError carries the gateway's answer for a non-2xx response.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	Body        string

	kind error
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: status %d: %s (%s)", e.kind, e.StatusCode, e.Description, e.Code)
	}
	return fmt.Sprintf("%s: status %d", e.kind, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.kind
}
