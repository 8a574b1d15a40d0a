// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/palaver-chat/palaver/lib/identity"
	"github.com/palaver-chat/palaver/signaling"
)

// defaultICEServers is used when SessionConfig.ICEServers is empty.
// STUN only: both clients are ordinary residential peers and the
// product runs without TURN infrastructure.
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// SessionConfig holds the wiring for one peer session.
type SessionConfig struct {
	// CallID ties outbound signals to the ledger record.
	CallID string
	// Self and Peer address the signals this session sends.
	Self, Peer identity.Identity
	// Channel carries SDP and ICE to the peer.
	Channel *signaling.Channel
	// Media supplies local tracks and the codec-carrying API.
	Media MediaSource
	// ICEServers overrides the default STUN set.
	ICEServers []webrtc.ICEServer
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// OnRemoteTrack fires for each inbound media track.
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnTransportState fires on peer connection state changes, on
	// pion's goroutines.
	OnTransportState func(webrtc.PeerConnectionState)
}

// Session owns the peer connection for exactly one call: capture,
// SDP exchange, trickled ICE, and local mute. It does not decide call
// lifecycle; that is the Engine's job. Safe for concurrent use.
type Session struct {
	callID  string
	self    identity.Identity
	peer    identity.Identity
	channel *signaling.Channel
	logger  *slog.Logger

	pc    *webrtc.PeerConnection
	media *LocalMedia

	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	closed      bool
	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
	videoMuted  bool
	audioMuted  bool
}

// NewSession captures local media and builds the peer connection.
// Capture failure is fatal for the session: the caller ends the call
// record rather than placing a call the user cannot be seen or heard
// on.
func NewSession(ctx context.Context, config SessionConfig) (*Session, error) {
	if config.CallID == "" || config.Self.IsZero() || config.Peer.IsZero() {
		return nil, fmt.Errorf("call: session needs a call ID and both participants")
	}
	if config.Channel == nil || config.Media == nil {
		return nil, fmt.Errorf("call: session needs a channel and a media source")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	media, err := config.Media.Capture(ctx)
	if err != nil {
		return nil, Classify(err)
	}

	api, err := config.Media.NewAPI()
	if err != nil {
		media.StopAll()
		return nil, Classify(err)
	}
	iceServers := config.ICEServers
	if len(iceServers) == 0 {
		iceServers = defaultICEServers
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		media.StopAll()
		return nil, newError(ErrConnectionFailed, fmt.Errorf("call: creating peer connection: %w", err))
	}

	session := &Session{
		callID:  config.CallID,
		self:    config.Self,
		peer:    config.Peer,
		channel: config.Channel,
		logger:  logger,
		pc:      pc,
		media:   media,
	}

	if err := session.attachTracks(); err != nil {
		session.Close()
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		session.sendCandidate(candidate.ToJSON())
	})
	if config.OnRemoteTrack != nil {
		onRemote := config.OnRemoteTrack
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			logger.Info("remote track arrived",
				"call_id", config.CallID, "kind", track.Kind().String())
			onRemote(track)
		})
	}
	if config.OnTransportState != nil {
		pc.OnConnectionStateChange(config.OnTransportState)
	}

	return session, nil
}

// attachTracks adds the captured tracks, falling back to recvonly
// transceivers so the SDP always carries audio and video m-lines.
func (s *Session) attachTracks() error {
	if s.media.Video != nil {
		sender, err := s.pc.AddTrack(s.media.Video)
		if err != nil {
			return newError(ErrConnectionFailed, fmt.Errorf("call: adding video track: %w", err))
		}
		s.videoSender = sender
	} else if err := s.addRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}
	if s.media.Audio != nil {
		sender, err := s.pc.AddTrack(s.media.Audio)
		if err != nil {
			return newError(ErrConnectionFailed, fmt.Errorf("call: adding audio track: %w", err))
		}
		s.audioSender = sender
	} else if err := s.addRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}
	return nil
}

func (s *Session) addRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: adding %s transceiver: %w", kind, err))
	}
	return nil
}

// SendOffer creates the caller's offer and publishes it. ICE trickles
// separately as candidates are gathered.
func (s *Session) SendOffer(ctx context.Context) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: creating offer: %w", err))
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: applying local offer: %w", err))
	}
	signal := signaling.NewDescription(signaling.KindOffer, s.self, s.peer, offer)
	if err := s.channel.Send(ctx, signal); err != nil {
		return newError(ErrSignalingUnavailable, err)
	}
	return nil
}

// ResendOffer republishes the current local offer, candidates gathered
// so far included. The caller uses this when the callee joins the topic
// after the original offer was broadcast.
func (s *Session) ResendOffer(ctx context.Context) error {
	description := s.pc.LocalDescription()
	if description == nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: no local offer to resend"))
	}
	signal := signaling.NewDescription(signaling.KindOffer, s.self, s.peer, *description)
	if err := s.channel.Send(ctx, signal); err != nil {
		return newError(ErrSignalingUnavailable, err)
	}
	return nil
}

// AnswerOffer applies the caller's offer and publishes the answer,
// flushing any ICE candidates that raced ahead of the offer. A second
// offer after the first was answered is a re-publish for a late joiner
// and is ignored.
func (s *Session) AnswerOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	s.mu.Lock()
	applied := s.remoteSet
	s.mu.Unlock()
	if applied {
		return nil
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: applying remote offer: %w", err))
	}
	s.flushPending()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: creating answer: %w", err))
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: applying local answer: %w", err))
	}
	signal := signaling.NewDescription(signaling.KindAnswer, s.self, s.peer, answer)
	if err := s.channel.Send(ctx, signal); err != nil {
		return newError(ErrSignalingUnavailable, err)
	}
	return nil
}

// HandleAnswer applies the callee's answer on the caller side.
// Duplicate answers are ignored.
func (s *Session) HandleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	applied := s.remoteSet
	s.mu.Unlock()
	if applied {
		return nil
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return newError(ErrConnectionFailed, fmt.Errorf("call: applying remote answer: %w", err))
	}
	s.flushPending()
	return nil
}

// HandleRemoteCandidate feeds one trickled candidate to ICE.
// Candidates arriving before the remote description are buffered;
// candidates arriving after Close are dropped.
func (s *Session) HandleRemoteCandidate(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(candidate); err != nil {
		s.logger.Warn("ice candidate rejected", "call_id", s.callID, "error", err)
	}
}

// flushPending marks the remote description as set and applies the
// buffered candidates in arrival order.
func (s *Session) flushPending() {
	s.mu.Lock()
	buffered := s.pending
	s.pending = nil
	s.remoteSet = true
	s.mu.Unlock()

	for _, candidate := range buffered {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("buffered ice candidate rejected", "call_id", s.callID, "error", err)
		}
	}
}

// sendCandidate trickles one local candidate, fire-and-forget. A lost
// candidate degrades path selection, not correctness.
func (s *Session) sendCandidate(candidate webrtc.ICECandidateInit) {
	signal := signaling.NewCandidate(s.self, s.peer, candidate)
	if err := s.channel.Send(context.Background(), signal); err != nil {
		s.logger.Warn("ice candidate publish failed", "call_id", s.callID, "error", err)
	}
}

// ToggleVideo flips the outbound camera track by swapping the sender's
// track, avoiding SDP renegotiation. Returns whether video is now
// enabled.
func (s *Session) ToggleVideo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoSender == nil || s.media.Video == nil {
		return false, newError(ErrDeviceNotFound, fmt.Errorf("call: no local video track"))
	}
	return s.toggleLocked(s.videoSender, s.media.Video, &s.videoMuted)
}

// ToggleAudio flips the outbound microphone track the same way.
func (s *Session) ToggleAudio() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioSender == nil || s.media.Audio == nil {
		return false, newError(ErrDeviceNotFound, fmt.Errorf("call: no local audio track"))
	}
	return s.toggleLocked(s.audioSender, s.media.Audio, &s.audioMuted)
}

func (s *Session) toggleLocked(sender *webrtc.RTPSender, track LocalTrack, muted *bool) (bool, error) {
	var replacement webrtc.TrackLocal
	if !*muted {
		replacement = nil // mute: stop sending
	} else {
		replacement = track
	}
	if err := sender.ReplaceTrack(replacement); err != nil {
		return !*muted, newError(ErrConnectionFailed, fmt.Errorf("call: replacing track: %w", err))
	}
	*muted = !*muted
	return !*muted, nil
}

// Close tears down the peer connection and releases the capture
// devices. Idempotent: the engine's teardown paths overlap.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	err := s.pc.Close()
	s.media.StopAll()
	if err != nil {
		return fmt.Errorf("call: closing peer connection: %w", err)
	}
	return nil
}

// BufferedCandidates reports how many candidates wait for the remote
// description.
func (s *Session) BufferedCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
