// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import "context"

// Transport abstracts the opaque publish/subscribe relay. The
// production implementation rides the backend's realtime broadcast
// channels; tests use MemoryTransport.
//
// Delivery is best-effort at-most-once per transmission: no ordering
// guarantee, no retry, and duplicates are possible when the relay
// redelivers. Consumers own deduplication.
type Transport interface {
	// Join subscribes to a topic. The returned session is the only
	// handle on the subscription; Close releases it fully.
	Join(ctx context.Context, topic string) (TopicSession, error)
}

// TopicSession is one live subscription to a topic.
type TopicSession interface {
	// Publish sends a payload to every other subscriber of the topic.
	// Returns once the transport accepts the frame, not once it is
	// delivered.
	Publish(ctx context.Context, payload []byte) error

	// Receive returns the inbound payload stream. The channel is
	// closed when the session is closed or the transport dies.
	Receive() <-chan []byte

	// Close releases the subscription. Idempotent. After Close the
	// transport must hold no reference to this session.
	Close() error
}
