// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// subscriptionBuffer is the per-subscriber inbound buffer. Overflow is
// dropped, matching the relay's best-effort contract.
const subscriptionBuffer = 64

// MemoryTransport is an in-process Transport for tests. Two Channels
// joined to the same topic on one MemoryTransport exchange signals
// without any network.
type MemoryTransport struct {
	// Loopback also delivers a publisher's own frames back to it,
	// mimicking relays without publisher exclusion. The Channel filter
	// must cope either way.
	Loopback bool

	mu     sync.Mutex
	topics map[string]map[string]*memorySession
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]map[string]*memorySession)}
}

// Join subscribes to a topic.
func (t *MemoryTransport) Join(_ context.Context, topic string) (TopicSession, error) {
	session := &memorySession{
		transport: t,
		topic:     topic,
		id:        uuid.NewString(),
		inbound:   make(chan []byte, subscriptionBuffer),
	}
	t.mu.Lock()
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[string]*memorySession)
	}
	t.topics[topic][session.id] = session
	t.mu.Unlock()
	return session, nil
}

// ActiveSubscriptions reports the number of live subscriptions across
// all topics. Tests assert this reaches zero after teardown.
func (t *MemoryTransport) ActiveSubscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, sessions := range t.topics {
		count += len(sessions)
	}
	return count
}

type memorySession struct {
	transport *MemoryTransport
	topic     string
	id        string

	closeOnce sync.Once
	inbound   chan []byte
}

func (s *memorySession) Publish(_ context.Context, payload []byte) error {
	// The sends happen under the transport mutex, which also guards
	// Close's channel close, so a concurrent Close cannot close an
	// inbound channel mid-send. The sends are non-blocking, so holding
	// the lock across them cannot stall the transport.
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	for _, peer := range s.transport.topics[s.topic] {
		if peer.id == s.id && !s.transport.Loopback {
			continue
		}
		frame := make([]byte, len(payload))
		copy(frame, payload)
		select {
		case peer.inbound <- frame:
		default:
			// Best-effort: a full subscriber drops the frame.
		}
	}
	return nil
}

func (s *memorySession) Receive() <-chan []byte { return s.inbound }

func (s *memorySession) Close() error {
	s.closeOnce.Do(func() {
		s.transport.mu.Lock()
		if sessions, ok := s.transport.topics[s.topic]; ok {
			delete(sessions, s.id)
			if len(sessions) == 0 {
				delete(s.transport.topics, s.topic)
			}
		}
		close(s.inbound)
		s.transport.mu.Unlock()
	})
	return nil
}
