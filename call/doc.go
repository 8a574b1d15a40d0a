// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package call implements one-to-one video calls: device capture,
// WebRTC peer sessions, and the state machine that ties signaling and
// the call ledger together.
//
// The split of responsibilities:
//
//   - [MediaSource] owns camera and microphone capture. The Linux
//     implementation rides pion/mediadevices; everything else is
//     receive-only.
//   - [Session] owns exactly one peer connection for one call: SDP
//     exchange, trickled ICE with out-of-order buffering, and local
//     track mute via sender track replacement (no renegotiation).
//   - [Engine] is the state machine. It owns the call lifecycle from
//     idle through ringing to connected and back, reacts to ledger
//     record changes and inbound signals, and serializes everything on
//     one mutex so handlers never observe a half-applied transition.
//
// The ledger record is the source of truth for whether a call exists;
// signals are latency optimizations layered on top. Wherever the two
// disagree, the engine follows the record.
package call
