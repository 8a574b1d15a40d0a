// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/palaver-chat/palaver/lib/identity"
)

// Kind discriminates the signal union.
type Kind string

const (
	// KindCallRequest announces an outbound call. Sent before the
	// offer so the callee can start ringing immediately.
	KindCallRequest Kind = "call-request"

	// KindOffer carries the caller's session description.
	KindOffer Kind = "offer"

	// KindAnswer carries the callee's session description.
	KindAnswer Kind = "answer"

	// KindIceCandidate carries one trickled ICE candidate. Duplicates
	// and reordering relative to offer/answer are expected.
	KindIceCandidate Kind = "ice-candidate"

	// KindCallAccept is the callee's authoritative "I am ready";
	// the caller transitions to connected on receipt.
	KindCallAccept Kind = "call-accept"

	// KindCallReject tells the caller to stop ringing. Sent directly
	// for latency; the ledger carries the durable rejection.
	KindCallReject Kind = "call-reject"

	// KindCallEnd terminates an established or pending call.
	KindCallEnd Kind = "call-end"
)

// valid reports whether k is a known signal kind.
func (k Kind) valid() bool {
	switch k {
	case KindCallRequest, KindOffer, KindAnswer, KindIceCandidate,
		KindCallAccept, KindCallReject, KindCallEnd:
		return true
	}
	return false
}

// ControlPayload is the payload for the four control kinds.
type ControlPayload struct {
	// CallID ties the signal to its ledger record.
	CallID string `json:"call_id"`
	// Reason qualifies reject/end ("busy", "hangup", "media-failure").
	// Empty for call-request and call-accept.
	Reason string `json:"reason,omitempty"`
}

// Signal is one ephemeral signaling message, addressed point-to-point.
// Exactly one of Description, Candidate, and Control is non-nil,
// determined by Kind.
type Signal struct {
	Kind   Kind
	Sender identity.Identity
	Target identity.Identity

	// Description is set for offer and answer.
	Description *webrtc.SessionDescription
	// Candidate is set for ice-candidate.
	Candidate *webrtc.ICECandidateInit
	// Control is set for the four control kinds.
	Control *ControlPayload
}

// NewDescription builds an offer or answer signal.
func NewDescription(kind Kind, sender, target identity.Identity, description webrtc.SessionDescription) *Signal {
	return &Signal{Kind: kind, Sender: sender, Target: target, Description: &description}
}

// NewCandidate builds an ice-candidate signal.
func NewCandidate(sender, target identity.Identity, candidate webrtc.ICECandidateInit) *Signal {
	return &Signal{Kind: KindIceCandidate, Sender: sender, Target: target, Candidate: &candidate}
}

// NewControl builds one of the four control signals.
func NewControl(kind Kind, sender, target identity.Identity, callID, reason string) *Signal {
	return &Signal{Kind: kind, Sender: sender, Target: target, Control: &ControlPayload{CallID: callID, Reason: reason}}
}

// Validate checks that the signal is well-formed: known kind, non-zero
// addressing, and the payload matching the kind.
func (s *Signal) Validate() error {
	if !s.Kind.valid() {
		return fmt.Errorf("signaling: unknown kind %q", s.Kind)
	}
	if s.Sender.IsZero() || s.Target.IsZero() {
		return fmt.Errorf("signaling: %s signal missing sender or target", s.Kind)
	}
	switch s.Kind {
	case KindOffer, KindAnswer:
		if s.Description == nil || s.Description.SDP == "" {
			return fmt.Errorf("signaling: %s signal missing session description", s.Kind)
		}
	case KindIceCandidate:
		if s.Candidate == nil || s.Candidate.Candidate == "" {
			return fmt.Errorf("signaling: ice-candidate signal missing candidate")
		}
	default:
		if s.Control == nil {
			return fmt.Errorf("signaling: %s signal missing control payload", s.Kind)
		}
	}
	return nil
}

// envelope is the wire shape of a signal.
type envelope struct {
	Kind    Kind              `json:"kind"`
	Sender  identity.Identity `json:"sender"`
	Target  identity.Identity `json:"target"`
	Payload json.RawMessage   `json:"payload"`
}

// Encode serializes a validated signal for the transport.
func Encode(s *Signal) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var payload any
	switch s.Kind {
	case KindOffer, KindAnswer:
		payload = s.Description
	case KindIceCandidate:
		payload = s.Candidate
	default:
		payload = s.Control
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signaling: encoding %s payload: %w", s.Kind, err)
	}
	data, err := json.Marshal(envelope{
		Kind:    s.Kind,
		Sender:  s.Sender,
		Target:  s.Target,
		Payload: encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("signaling: encoding %s envelope: %w", s.Kind, err)
	}
	return data, nil
}

// Decode parses and validates one wire signal. The payload is decoded
// into the concrete type for the kind before any handler sees it;
// malformed signals are rejected here, at the boundary.
func Decode(data []byte) (*Signal, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("signaling: malformed envelope: %w", err)
	}
	if !env.Kind.valid() {
		return nil, fmt.Errorf("signaling: unknown kind %q", env.Kind)
	}

	signal := &Signal{Kind: env.Kind, Sender: env.Sender, Target: env.Target}
	switch env.Kind {
	case KindOffer, KindAnswer:
		var description webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &description); err != nil {
			return nil, fmt.Errorf("signaling: malformed %s payload: %w", env.Kind, err)
		}
		signal.Description = &description
	case KindIceCandidate:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Payload, &candidate); err != nil {
			return nil, fmt.Errorf("signaling: malformed ice-candidate payload: %w", err)
		}
		signal.Candidate = &candidate
	default:
		var control ControlPayload
		if err := json.Unmarshal(env.Payload, &control); err != nil {
			return nil, fmt.Errorf("signaling: malformed %s payload: %w", env.Kind, err)
		}
		signal.Control = &control
	}

	if err := signal.Validate(); err != nil {
		return nil, err
	}
	return signal, nil
}
