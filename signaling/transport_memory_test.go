// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"testing"
)

// TestMemoryTransport_ConcurrentPublishAndClose churns subscribers
// while a publisher keeps sending. A subscriber closing mid-delivery
// must not take down the publisher, and the churn must not leak
// subscriptions.
func TestMemoryTransport_ConcurrentPublishAndClose(t *testing.T) {
	transport := NewMemoryTransport()
	ctx := context.Background()
	frame := []byte(`{"kind":"call-end"}`)

	for i := 0; i < 50; i++ {
		publisher, err := transport.Join(ctx, "call:conv-churn")
		if err != nil {
			t.Fatalf("Join publisher: %v", err)
		}
		subscriber, err := transport.Join(ctx, "call:conv-churn")
		if err != nil {
			t.Fatalf("Join subscriber: %v", err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 32; j++ {
				if err := publisher.Publish(ctx, frame); err != nil {
					t.Errorf("Publish: %v", err)
					return
				}
			}
		}()
		if err := subscriber.Close(); err != nil {
			t.Fatalf("Close subscriber: %v", err)
		}
		<-done
		if err := publisher.Close(); err != nil {
			t.Fatalf("Close publisher: %v", err)
		}
	}

	if got := transport.ActiveSubscriptions(); got != 0 {
		t.Fatalf("active subscriptions = %d after churn, want 0", got)
	}
}
