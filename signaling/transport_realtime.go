// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/palaver-chat/palaver/backend"
)

// Compile-time interface check.
var _ Transport = (*RealtimeTransport)(nil)

// signalEvent is the broadcast event name signals travel under on the
// realtime channel. Other broadcast traffic on the same topic (typing
// indicators, presence) uses different event names and is ignored here.
const signalEvent = "call_signal"

// RealtimeTransport rides signal frames on the backend's realtime
// broadcast channels, one topic per conversation.
type RealtimeTransport struct {
	Realtime *backend.Realtime
}

// NewRealtimeTransport wraps an established realtime connection.
func NewRealtimeTransport(realtime *backend.Realtime) *RealtimeTransport {
	return &RealtimeTransport{Realtime: realtime}
}

// Join subscribes to the conversation's broadcast topic.
func (t *RealtimeTransport) Join(ctx context.Context, topic string) (TopicSession, error) {
	realtimeTopic, err := t.Realtime.Join(ctx, topic, nil)
	if err != nil {
		return nil, err
	}

	session := &realtimeSession{
		topic:   realtimeTopic,
		inbound: make(chan []byte, subscriptionBuffer),
	}
	go session.pump()
	return session, nil
}

type realtimeSession struct {
	topic *backend.RealtimeTopic

	closeOnce sync.Once
	inbound   chan []byte
}

// pump forwards signal broadcasts into the session's inbound channel,
// discarding unrelated broadcast traffic on the topic.
func (s *realtimeSession) pump() {
	for event := range s.topic.Events() {
		if event.Kind != "broadcast" || event.Event != signalEvent {
			continue
		}
		select {
		case s.inbound <- []byte(event.Payload):
		default:
		}
	}
	s.closeOnce.Do(func() { close(s.inbound) })
}

func (s *realtimeSession) Publish(ctx context.Context, payload []byte) error {
	// The frame is already JSON. RawMessage embeds it verbatim in the
	// broadcast; a plain []byte would be marshalled as a base64 string
	// the receiving side cannot decode.
	return s.topic.Broadcast(ctx, signalEvent, json.RawMessage(payload))
}

func (s *realtimeSession) Receive() <-chan []byte { return s.inbound }

func (s *realtimeSession) Close() error {
	// Leaving the topic closes its event stream, which ends pump and
	// closes inbound exactly once.
	return s.topic.Leave(context.Background())
}
