// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRelay is a minimal phoenix-framed websocket server: it accepts
// joins, acknowledges heartbeats, records what the client publishes,
// and lets tests inject inbound frames.
type fakeRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	refuseJoins bool

	mu   sync.Mutex
	conn *websocket.Conn

	joins      chan realtimeFrame
	leaves     chan realtimeFrame
	broadcasts chan realtimeFrame
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	relay := &fakeRelay{
		t:          t,
		joins:      make(chan realtimeFrame, 4),
		leaves:     make(chan realtimeFrame, 4),
		broadcasts: make(chan realtimeFrame, 4),
	}
	relay.server = httptest.NewServer(http.HandlerFunc(relay.handle))
	t.Cleanup(relay.server.Close)
	return relay
}

func (f *fakeRelay) wsURL() string {
	return strings.Replace(f.server.URL, "http", "ws", 1)
}

func (f *fakeRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		var frame realtimeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Event {
		case "phx_join":
			status := "ok"
			if f.refuseJoins {
				status = "error"
			}
			f.reply(frame, status)
			f.joins <- frame
		case "heartbeat":
			f.reply(frame, "ok")
		case "phx_leave":
			f.leaves <- frame
		case "broadcast":
			f.broadcasts <- frame
		}
	}
}

func (f *fakeRelay) reply(request realtimeFrame, status string) {
	payload, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
	f.send(realtimeFrame{
		Topic:   request.Topic,
		Event:   "phx_reply",
		Payload: payload,
		Ref:     request.Ref,
	})
}

func (f *fakeRelay) send(frame realtimeFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		f.t.Fatal("no client connected")
	}
	if err := f.conn.WriteJSON(frame); err != nil {
		f.t.Errorf("relay write: %v", err)
	}
}

func dialTestRealtime(t *testing.T, relay *fakeRelay) *Realtime {
	t.Helper()
	realtime, err := DialRealtime(context.Background(), RealtimeConfig{
		URL:    relay.wsURL(),
		APIKey: "public-key",
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("DialRealtime: %v", err)
	}
	t.Cleanup(func() { realtime.Close() })
	return realtime
}

func waitEvent(t *testing.T, events <-chan RealtimeEvent) RealtimeEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("no event arrived")
		return RealtimeEvent{}
	}
}

func TestRealtime_JoinAndReceiveBroadcast(t *testing.T) {
	relay := newFakeRelay(t)
	realtime := dialTestRealtime(t, relay)

	topic, err := realtime.Join(context.Background(), "call:conv-1", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	<-relay.joins

	payload, _ := json.Marshal(map[string]any{
		"event":   "call_signal",
		"payload": map[string]string{"kind": "offer"},
	})
	relay.send(realtimeFrame{Topic: "call:conv-1", Event: "broadcast", Payload: payload})

	event := waitEvent(t, topic.Events())
	if event.Kind != "broadcast" || event.Event != "call_signal" {
		t.Fatalf("event = %+v", event)
	}
	var body map[string]string
	if err := json.Unmarshal(event.Payload, &body); err != nil || body["kind"] != "offer" {
		t.Fatalf("payload = %s", event.Payload)
	}
}

func TestRealtime_BroadcastPublishes(t *testing.T) {
	relay := newFakeRelay(t)
	realtime := dialTestRealtime(t, relay)

	topic, err := realtime.Join(context.Background(), "call:conv-1", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	<-relay.joins

	if err := topic.Broadcast(context.Background(), "call_signal", map[string]string{"kind": "answer"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case frame := <-relay.broadcasts:
		if frame.Topic != "call:conv-1" {
			t.Errorf("topic = %s", frame.Topic)
		}
		var body struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(frame.Payload, &body); err != nil || body.Event != "call_signal" {
			t.Errorf("payload = %s", frame.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast never reached the relay")
	}
}

func TestRealtime_PostgresChangesCarryAction(t *testing.T) {
	relay := newFakeRelay(t)
	realtime := dialTestRealtime(t, relay)

	topic, err := realtime.Join(context.Background(), "ledger:video_calls:user-1", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	<-relay.joins

	payload, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"type":   "INSERT",
			"record": map[string]string{"id": "call-1"},
		},
	})
	relay.send(realtimeFrame{Topic: "ledger:video_calls:user-1", Event: "postgres_changes", Payload: payload})

	event := waitEvent(t, topic.Events())
	if event.Kind != "postgres_changes" || event.Event != "INSERT" {
		t.Fatalf("event = %+v", event)
	}
}

func TestRealtime_JoinIsIdempotentPerTopic(t *testing.T) {
	relay := newFakeRelay(t)
	realtime := dialTestRealtime(t, relay)

	first, err := realtime.Join(context.Background(), "call:conv-1", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	second, err := realtime.Join(context.Background(), "call:conv-1", nil)
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if first != second {
		t.Fatal("second Join created a new subscription")
	}
	if got := len(relay.joins); got != 1 {
		t.Fatalf("join frames = %d, want 1", got)
	}
}

func TestRealtime_RefusedJoinFails(t *testing.T) {
	relay := newFakeRelay(t)
	relay.refuseJoins = true
	realtime := dialTestRealtime(t, relay)

	if _, err := realtime.Join(context.Background(), "call:conv-1", nil); err == nil {
		t.Fatal("Join succeeded against a refusing relay")
	}
}

func TestRealtime_LeaveClosesEvents(t *testing.T) {
	relay := newFakeRelay(t)
	realtime := dialTestRealtime(t, relay)

	topic, err := realtime.Join(context.Background(), "call:conv-1", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	<-relay.joins

	if err := topic.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	select {
	case <-relay.leaves:
	case <-time.After(5 * time.Second):
		t.Fatal("phx_leave never reached the relay")
	}
	select {
	case _, open := <-topic.Events():
		if open {
			t.Fatal("events channel still delivering after Leave")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after Leave")
	}
}

// TestRealtime_LeaveDuringDelivery leaves a topic while the relay is
// still pushing broadcasts at it. Frames racing the leave must be
// discarded, not delivered into a closed event stream.
func TestRealtime_LeaveDuringDelivery(t *testing.T) {
	relay := newFakeRelay(t)
	realtime := dialTestRealtime(t, relay)

	topic, err := realtime.Join(context.Background(), "call:conv-1", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	<-relay.joins

	payload, _ := json.Marshal(map[string]any{
		"event":   "call_signal",
		"payload": map[string]string{"kind": "ice-candidate"},
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			relay.send(realtimeFrame{Topic: "call:conv-1", Event: "broadcast", Payload: payload})
		}
	}()

	if err := topic.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	<-done

	// The stream is closed; draining whatever was buffered before the
	// leave must terminate.
	for range topic.Events() {
	}
}

func TestDeriveRealtimeURL(t *testing.T) {
	derived, err := deriveRealtimeURL("https://app.example.com")
	if err != nil {
		t.Fatalf("deriveRealtimeURL: %v", err)
	}
	if derived != "wss://app.example.com/realtime/v1/websocket" {
		t.Fatalf("derived = %s", derived)
	}
	if _, err := deriveRealtimeURL("ftp://app.example.com"); err == nil {
		t.Fatal("ftp scheme accepted")
	}
}
