// Package api implements the HTTP client for the assistant backend and the
// RAG query engine. This file centralizes the client-side error envelope:
// every collaborator failure is converted into an *Error carrying a stable,
// machine-readable code, so the state managers can classify failures without
// string matching.
//
// Taxonomy (mirrors the managers' handling rules):
//   - transport codes (network_error, bad_payload) for connection and
//     malformed-response failures;
//   - HTTP codes (unauthorized, forbidden, not_found, conflict,
//     rate_limited, bad_request, server_error) mapped from the status.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes attached to *Error.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeRateLimited  = "rate_limited"
	CodeServerError  = "server_error"
	CodeNetworkError = "network_error"
	CodeBadPayload   = "bad_payload"
)

// Error is the uniform failure value returned by all client calls.
//
// Status is the HTTP status code, or 0 for transport-level failures.
// Message is safe to surface to users.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// codeForStatus maps an HTTP status to a stable error code.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeServerError
	}
}

// IsUnauthorized reports whether err is an *Error with status 401.
func IsUnauthorized(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

// UserMessage extracts a display-safe message from any client error,
// falling back to a generic one for unexpected values.
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "Something went wrong, please try again."
}
