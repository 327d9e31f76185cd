// Package apierr defines the error taxonomy shared by the language-model and
// text-to-speech gateways and the conversation orchestrator.
//
// Providers wrap one of the sentinel errors with %w so callers can classify a
// failure with [errors.Is] regardless of which backend produced it. The
// orchestrator uses [IsCancellation] to swallow expected cancellations and
// [UserMessage] to turn everything else into a single human-readable line.
package apierr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned when no API key is configured for the
	// provider being called.
	ErrMissingCredential = errors.New("missing API credential")

	// ErrInvalidEndpoint is returned when the provider URL cannot be built from
	// the configured base URL.
	ErrInvalidEndpoint = errors.New("invalid API endpoint")

	// ErrRequestFailed is returned when the provider answered with a status
	// outside the 2xx range.
	ErrRequestFailed = errors.New("API request failed")

	// ErrEmptyResponse is returned when a generation call succeeded but carried
	// no usable reply.
	ErrEmptyResponse = errors.New("empty API response")

	// ErrCancelled marks a transport call abandoned because the caller stopped
	// the conversation.
	ErrCancelled = errors.New("request cancelled")
)

// StatusError records a non-2xx HTTP response. It unwraps to [ErrRequestFailed].
type StatusError struct {
	// Provider names the backend that answered (e.g. "openai", "elevenlabs").
	Provider string

	// Code is the HTTP status code.
	Code int

	// Body holds a bounded excerpt of the response body, if any.
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// Unwrap returns [ErrRequestFailed].
func (e *StatusError) Unwrap() error { return ErrRequestFailed }

// IsCancellation reports whether err stems from a user-initiated stop: a
// cancelled context or an explicit [ErrCancelled].
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// UserMessage converts err into the message shown to the user. It returns the
// empty string for nil errors and cancellations.
func UserMessage(err error) string {
	switch {
	case err == nil, IsCancellation(err):
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "API key is missing. Please set it in Settings."
	case errors.Is(err, ErrInvalidEndpoint):
		return "Invalid API URL"
	case errors.Is(err, ErrRequestFailed):
		return "API request failed"
	case errors.Is(err, ErrEmptyResponse):
		return "No response from API"
	default:
		return "An unexpected error occurred: " + err.Error()
	}
}

// Kind returns a short, stable label for err suitable for metric attributes.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsCancellation(err):
		return "cancelled"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidEndpoint):
		return "invalid_endpoint"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	default:
		return "unexpected"
	}
}
