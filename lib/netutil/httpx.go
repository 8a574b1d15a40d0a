// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response readers.
//
// ReadResponse caps response body reads at MaxResponseSize so a
// misbehaving server cannot make a JSON API call allocate unbounded
// memory. It is for API responses, not for streaming bodies.
package netutil

import (
	"io"
	"strings"
)

// MaxResponseSize bounds JSON API response body reads: 64 MB.
// Legitimate responses from the call backend are orders of magnitude
// smaller; the limit only exists to stop pathological ones.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// maxErrorBody bounds how much of an error response is quoted in an
// error message.
const maxErrorBody = 512

// ErrorBody renders a response body for inclusion in an error message:
// whitespace-trimmed and truncated so one bad response cannot flood a
// log line.
func ErrorBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
