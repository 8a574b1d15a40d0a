// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestReadResponse_ReadsWholeBody(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("data = %s", data)
	}
}

func TestReadResponse_TruncatesOversizedBody(t *testing.T) {
	oversized := strings.NewReader(strings.Repeat("x", int(MaxResponseSize)+10))
	data, err := ReadResponse(oversized)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if int64(len(data)) != MaxResponseSize {
		t.Fatalf("len = %d, want %d", len(data), MaxResponseSize)
	}
}

func TestErrorBody_TrimsAndTruncates(t *testing.T) {
	if got := ErrorBody([]byte("  upstream timeout  \n")); got != "upstream timeout" {
		t.Fatalf("ErrorBody = %q", got)
	}
	long := strings.Repeat("y", maxErrorBody+40)
	got := ErrorBody([]byte(long))
	if len(got) != maxErrorBody+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated body = %d chars, suffix %q", len(got), got[len(got)-3:])
	}
}
