// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/palaver-chat/palaver/lib/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestChannel(t *testing.T, transport Transport, self identity.Identity) *Channel {
	t.Helper()
	channel, err := NewChannel(ChannelConfig{
		Self:      self,
		Transport: transport,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	return channel
}

// waitSignal receives one signal from ch or fails the test.
func waitSignal(t *testing.T, ch <-chan *Signal) *Signal {
	t.Helper()
	select {
	case signal := <-ch:
		return signal
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
		return nil
	}
}

// TestChannel_PointToPointDelivery verifies that a signal published on
// the conversation topic reaches the addressed user and only the
// addressed user.
func TestChannel_PointToPointDelivery(t *testing.T) {
	transport := NewMemoryTransport()
	ctx := context.Background()

	sender := newTestChannel(t, transport, alice)
	receiver := newTestChannel(t, transport, bob)
	bystander := newTestChannel(t, transport, identity.Identity{UserID: "user-carol"})
	defer sender.Close()
	defer receiver.Close()
	defer bystander.Close()

	received := make(chan *Signal, 4)
	receiver.OnSignal(func(signal *Signal) { received <- signal })
	strayed := make(chan *Signal, 4)
	bystander.OnSignal(func(signal *Signal) { strayed <- signal })

	for _, channel := range []*Channel{sender, receiver, bystander} {
		if err := channel.Connect(ctx, "conv-1"); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	}

	if err := sender.Send(ctx, NewControl(KindCallRequest, alice, bob, "call-1", "")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	signal := waitSignal(t, received)
	if signal.Kind != KindCallRequest {
		t.Errorf("Kind = %q, want %q", signal.Kind, KindCallRequest)
	}
	if signal.Sender != alice {
		t.Errorf("Sender = %v, want %v", signal.Sender, alice)
	}

	select {
	case stray := <-strayed:
		t.Errorf("bystander received %s signal addressed to %v", stray.Kind, stray.Target)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestChannel_DropsOwnEchoOnLoopback verifies the receive filter
// discards the sender's own signals when the transport loops frames
// back to their publisher.
func TestChannel_DropsOwnEchoOnLoopback(t *testing.T) {
	transport := NewMemoryTransport()
	transport.Loopback = true
	ctx := context.Background()

	sender := newTestChannel(t, transport, alice)
	receiver := newTestChannel(t, transport, bob)
	defer sender.Close()
	defer receiver.Close()

	echoed := make(chan *Signal, 4)
	sender.OnSignal(func(signal *Signal) { echoed <- signal })
	received := make(chan *Signal, 4)
	receiver.OnSignal(func(signal *Signal) { received <- signal })

	if err := sender.Connect(ctx, "conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := receiver.Connect(ctx, "conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := sender.Send(ctx, NewControl(KindCallEnd, alice, bob, "call-1", "hangup")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitSignal(t, received)
	select {
	case <-echoed:
		t.Error("sender received its own looped-back signal")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestChannel_ConnectIdempotent verifies that reconnecting with the
// same conversation is a no-op and a different conversation replaces
// the old subscription rather than leaking it.
func TestChannel_ConnectIdempotent(t *testing.T) {
	transport := NewMemoryTransport()
	ctx := context.Background()

	channel := newTestChannel(t, transport, alice)
	defer channel.Close()

	if err := channel.Connect(ctx, "conv-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := channel.Connect(ctx, "conv-1"); err != nil {
		t.Fatalf("repeat Connect failed: %v", err)
	}
	if got := transport.ActiveSubscriptions(); got != 1 {
		t.Errorf("ActiveSubscriptions() after repeat connect = %d, want 1", got)
	}

	if err := channel.Connect(ctx, "conv-2"); err != nil {
		t.Fatalf("Connect to new conversation failed: %v", err)
	}
	if got := transport.ActiveSubscriptions(); got != 1 {
		t.Errorf("ActiveSubscriptions() after conversation change = %d, want 1", got)
	}
	if got := channel.ConversationID(); got != "conv-2" {
		t.Errorf("ConversationID() = %q, want %q", got, "conv-2")
	}
}

// TestChannel_CloseReleasesSubscriptions is the leak invariant: after
// N connect/close cycles the transport must report zero active
// subscriptions.
func TestChannel_CloseReleasesSubscriptions(t *testing.T) {
	transport := NewMemoryTransport()
	ctx := context.Background()

	for cycle := 0; cycle < 5; cycle++ {
		channel := newTestChannel(t, transport, alice)
		if err := channel.Connect(ctx, "conv-1"); err != nil {
			t.Fatalf("cycle %d: Connect failed: %v", cycle, err)
		}
		if err := channel.Close(); err != nil {
			t.Fatalf("cycle %d: Close failed: %v", cycle, err)
		}
		// Close is idempotent.
		if err := channel.Close(); err != nil {
			t.Fatalf("cycle %d: repeated Close failed: %v", cycle, err)
		}
	}

	if got := transport.ActiveSubscriptions(); got != 0 {
		t.Errorf("ActiveSubscriptions() after teardown = %d, want 0", got)
	}
}

// TestChannel_SendWhileDisconnected verifies that Send without a live
// subscription fails instead of silently dropping the signal.
func TestChannel_SendWhileDisconnected(t *testing.T) {
	channel := newTestChannel(t, NewMemoryTransport(), alice)
	err := channel.Send(context.Background(), NewControl(KindCallEnd, alice, bob, "call-1", ""))
	if err == nil {
		t.Fatal("Send on disconnected channel succeeded, want error")
	}
}
