// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is one captured local track: attachable to a peer
// connection, releasable when the call ends.
type LocalTrack interface {
	webrtc.TrackLocal
	Close() error
}

// MediaSource produces the local media for a call. Implementations own
// codec registration, so they also build the WebRTC API the session's
// peer connection comes from.
type MediaSource interface {
	// NewAPI returns a webrtc API whose media engine carries this
	// source's codecs.
	NewAPI() (*webrtc.API, error)

	// Capture opens the camera and microphone. A partial result is
	// valid: either track may be nil when that device is unavailable,
	// and capture fails only when no device at all can be opened.
	Capture(ctx context.Context) (*LocalMedia, error)
}

// LocalMedia is the outcome of one capture: at most one video and one
// audio track.
type LocalMedia struct {
	Video LocalTrack
	Audio LocalTrack

	stopOnce sync.Once
}

// Tracks returns the captured tracks, video first.
func (m *LocalMedia) Tracks() []LocalTrack {
	var tracks []LocalTrack
	if m.Video != nil {
		tracks = append(tracks, m.Video)
	}
	if m.Audio != nil {
		tracks = append(tracks, m.Audio)
	}
	return tracks
}

// StopAll releases every captured device. Idempotent: the session and
// the engine both call it on their failure paths.
func (m *LocalMedia) StopAll() {
	m.stopOnce.Do(func() {
		for _, track := range m.Tracks() {
			track.Close()
		}
	})
}
