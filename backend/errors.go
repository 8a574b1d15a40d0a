// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
)

// BackendError is a structured error response from the backend's REST
// or RPC surface. Callers extract it with errors.As:
//
//	var backendErr *backend.BackendError
//	if errors.As(err, &backendErr) {
//	    if backendErr.Code == backend.ErrCodeCalleeUnreachable { ... }
//	}
type BackendError struct {
	// Code is the backend error code (e.g., "PGRST301", "CALL_BUSY").
	Code string `json:"code"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// Hint carries the server's optional remediation hint.
	Hint string `json:"hint,omitempty"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Error codes returned by the call ledger's server-side functions.
const (
	// ErrCodeCalleeUnreachable: the callee cannot be called by policy
	// (blocked, left the conversation). Returned by create_video_call.
	ErrCodeCalleeUnreachable = "CALL_CALLEE_UNREACHABLE"

	// ErrCodeInvalidTransition: the requested status transition is not
	// legal from the record's current status.
	ErrCodeInvalidTransition = "CALL_INVALID_TRANSITION"

	// ErrCodeAlreadySettled: the record already reached the requested
	// (or a terminal) status. Accept/reject/end treat this as success.
	ErrCodeAlreadySettled = "CALL_ALREADY_SETTLED"

	// ErrCodeNotFound: no such row (possibly removed by retention).
	ErrCodeNotFound = "PGRST116"

	// ErrCodeUnauthorized: missing or stale credentials.
	ErrCodeUnauthorized = "PGRST301"
)

// IsBackendError checks whether err is a *BackendError with the
// given code.
func IsBackendError(err error, code string) bool {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Code == code
	}
	return false
}
