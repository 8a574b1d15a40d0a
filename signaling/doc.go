// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling carries the ephemeral point-to-point messages that
// negotiate a call's media session.
//
// A [Signal] is a tagged union keyed by [Kind]: session descriptions
// (offer/answer), trickled ICE candidates, and the four control
// messages (call-request, call-accept, call-reject, call-end). Signals
// are validated at the decode boundary (a malformed or unknown signal
// is rejected, never dispatched) and discarded by the receiver after
// handling; nothing here is persisted.
//
// The relay itself is abstracted behind [Transport], a topic-scoped
// publish/subscribe with at-most-once best-effort delivery.
// [RealtimeTransport] rides the backend's realtime broadcast channels
// in production; [MemoryTransport] is the in-process implementation
// for tests.
//
// [Channel] is the conversation-scoped adapter: one subscription per
// conversation, point-to-point addressing on top of the broadcast
// topic. The receive filter dispatches a signal only when its target
// user is the local user, and drops the sender's own signals; the
// same filter is applied whether or not the transport loops messages
// back to their publisher.
package signaling
