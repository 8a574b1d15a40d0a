// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palaver-chat/palaver/backend"
)

// echoRelay is a phoenix-framed websocket server that acknowledges
// joins and reflects every broadcast back at the publisher, standing in
// for the hosted relay's delivery to a topic's other subscribers.
type echoRelay struct {
	server *httptest.Server
}

type relayFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

func newEchoRelay(t *testing.T) *echoRelay {
	t.Helper()
	upgrader := websocket.Upgrader{}
	relay := &echoRelay{}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame relayFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Event {
			case "phx_join", "heartbeat":
				reply, _ := json.Marshal(map[string]any{"status": "ok", "response": map[string]any{}})
				if err := conn.WriteJSON(relayFrame{Topic: frame.Topic, Event: "phx_reply", Payload: reply, Ref: frame.Ref}); err != nil {
					return
				}
			case "broadcast":
				if err := conn.WriteJSON(relayFrame{Topic: frame.Topic, Event: "broadcast", Payload: frame.Payload}); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(relay.server.Close)
	return relay
}

func (r *echoRelay) wsURL() string {
	return strings.Replace(r.server.URL, "http", "ws", 1)
}

// TestRealtimeTransport_SignalRoundTrip publishes an encoded signal
// through a real websocket relay and decodes what comes back. This
// covers the wire path the in-memory transport skips: the signal frame
// must survive the broadcast envelope byte for byte.
func TestRealtimeTransport_SignalRoundTrip(t *testing.T) {
	relay := newEchoRelay(t)
	realtime, err := backend.DialRealtime(context.Background(), backend.RealtimeConfig{
		URL:    relay.wsURL(),
		APIKey: "public-key",
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("DialRealtime: %v", err)
	}
	defer realtime.Close()

	transport := NewRealtimeTransport(realtime)
	session, err := transport.Join(context.Background(), "call:conv-wire")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer session.Close()

	signal := NewControl(KindCallRequest, alice, bob, "call-wire-1", "")
	data, err := Encode(signal)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := session.Publish(context.Background(), data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case frame := <-session.Receive():
		decoded, err := Decode(frame)
		if err != nil {
			t.Fatalf("relayed frame does not decode: %v (frame %s)", err, frame)
		}
		if decoded.Kind != KindCallRequest {
			t.Errorf("kind = %s, want call-request", decoded.Kind)
		}
		if decoded.Control == nil || decoded.Control.CallID != "call-wire-1" {
			t.Errorf("control = %+v, want call-wire-1", decoded.Control)
		}
		if !decoded.Sender.SameUser(alice) || !decoded.Target.SameUser(bob) {
			t.Errorf("addressing lost: sender %s target %s", decoded.Sender, decoded.Target)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relayed signal never arrived")
	}
}
