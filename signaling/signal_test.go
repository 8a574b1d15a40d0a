// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/palaver-chat/palaver/lib/identity"
)

var (
	alice = identity.Identity{UserID: "user-alice", PersonaID: "persona-a"}
	bob   = identity.Identity{UserID: "user-bob", PersonaID: "persona-b"}
)

// TestSignal_EncodeDecodeOffer verifies that a session-description
// signal survives the wire with its payload typed correctly.
func TestSignal_EncodeDecodeOffer(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}
	data, err := Encode(NewDescription(KindOffer, alice, bob, offer))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Kind != KindOffer {
		t.Errorf("Kind = %q, want %q", decoded.Kind, KindOffer)
	}
	if decoded.Sender != alice || decoded.Target != bob {
		t.Errorf("addressing = %v → %v, want %v → %v", decoded.Sender, decoded.Target, alice, bob)
	}
	if decoded.Description == nil || decoded.Description.SDP != offer.SDP {
		t.Errorf("Description = %+v, want SDP %q", decoded.Description, offer.SDP)
	}
	if decoded.Candidate != nil || decoded.Control != nil {
		t.Error("offer signal decoded with extra union arms set")
	}
}

// TestSignal_EncodeDecodeCandidate verifies the ICE candidate arm of
// the union.
func TestSignal_EncodeDecodeCandidate(t *testing.T) {
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host"}
	data, err := Encode(NewCandidate(alice, bob, candidate))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Candidate == nil || decoded.Candidate.Candidate != candidate.Candidate {
		t.Errorf("Candidate = %+v, want %q", decoded.Candidate, candidate.Candidate)
	}
}

// TestSignal_EncodeDecodeControl verifies the control arm, including
// the reason carried by reject/end.
func TestSignal_EncodeDecodeControl(t *testing.T) {
	data, err := Encode(NewControl(KindCallReject, bob, alice, "call-42", "busy"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Control == nil {
		t.Fatal("Control payload missing")
	}
	if decoded.Control.CallID != "call-42" {
		t.Errorf("CallID = %q, want %q", decoded.Control.CallID, "call-42")
	}
	if decoded.Control.Reason != "busy" {
		t.Errorf("Reason = %q, want %q", decoded.Control.Reason, "busy")
	}
}

// TestDecode_RejectsMalformed verifies boundary validation: unknown
// kinds, missing payloads, and non-JSON input never reach a handler.
func TestDecode_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not JSON", "][nope"},
		{"unknown kind", `{"kind":"call-forward","sender":{"user_id":"a"},"target":{"user_id":"b"},"payload":{}}`},
		{"offer without SDP", `{"kind":"offer","sender":{"user_id":"a"},"target":{"user_id":"b"},"payload":{"type":"offer","sdp":""}}`},
		{"candidate without candidate", `{"kind":"ice-candidate","sender":{"user_id":"a"},"target":{"user_id":"b"},"payload":{"candidate":""}}`},
		{"missing target", `{"kind":"call-end","sender":{"user_id":"a"},"payload":{"call_id":"c"}}`},
		{"payload type mismatch", `{"kind":"offer","sender":{"user_id":"a"},"target":{"user_id":"b"},"payload":[1,2]}`},
	}
	for _, testCase := range cases {
		if _, err := Decode([]byte(testCase.data)); err == nil {
			t.Errorf("%s: Decode accepted malformed input", testCase.name)
		}
	}
}

// TestEncode_RejectsInvalid verifies that Encode refuses signals that
// would fail Validate, so malformed frames never leave this client.
func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := Encode(&Signal{Kind: KindOffer, Sender: alice, Target: bob})
	if err == nil || !strings.Contains(err.Error(), "session description") {
		t.Errorf("Encode(offer without description) error = %v, want session description error", err)
	}

	_, err = Encode(&Signal{Kind: Kind("bogus"), Sender: alice, Target: bob})
	if err == nil {
		t.Error("Encode accepted unknown kind")
	}
}
