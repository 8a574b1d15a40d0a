// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"errors"
	"fmt"

	"github.com/palaver-chat/palaver/backend"
	"github.com/palaver-chat/palaver/ledger"
)

// ErrorCode classifies a call failure for presentation. The UI maps
// each code to a user-facing message; everything it cannot classify is
// ErrUnknown.
type ErrorCode string

const (
	// ErrPermissionDenied: the OS refused camera or microphone access.
	ErrPermissionDenied ErrorCode = "permission-denied"

	// ErrDeviceNotFound: no usable capture device.
	ErrDeviceNotFound ErrorCode = "device-not-found"

	// ErrSignalingUnavailable: the relay connection is down or refused
	// the subscription.
	ErrSignalingUnavailable ErrorCode = "signaling-unavailable"

	// ErrLedgerRejected: the backend refused to create or transition
	// the call record.
	ErrLedgerRejected ErrorCode = "ledger-rejected"

	// ErrConnectionFailed: the peer connection never established or
	// died and could not recover.
	ErrConnectionFailed ErrorCode = "connection-failed"

	// ErrUnknown: anything the classifier does not recognize.
	ErrUnknown ErrorCode = "unknown"
)

// CallError pairs a failure with its classification. The wrapped error
// keeps the full cause chain for logs.
type CallError struct {
	Code ErrorCode
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call: %s: %v", e.Code, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func newError(code ErrorCode, err error) *CallError {
	return &CallError{Code: code, Err: err}
}

// Classify wraps err as a CallError, passing through errors that are
// already classified and recognizing the ledger and backend failure
// shapes.
func Classify(err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	if errors.Is(err, ledger.ErrCreationRefused) {
		return newError(ErrLedgerRejected, err)
	}
	var backendErr *backend.BackendError
	if errors.As(err, &backendErr) {
		return newError(ErrLedgerRejected, err)
	}
	return newError(ErrUnknown, err)
}

// CodeOf extracts the classification from an error chain, or
// ErrUnknown.
func CodeOf(err error) ErrorCode {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Code
	}
	return ErrUnknown
}
