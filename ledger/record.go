// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"time"

	"github.com/palaver-chat/palaver/lib/identity"
)

// Status is a call record's position in its lifecycle. Transitions are
// validated server side; clients only ever observe the result.
type Status string

const (
	// StatusInitiating is the transient state between row creation and
	// the callee being notified. The server normally advances it to
	// ringing before the creating RPC returns.
	StatusInitiating Status = "initiating"

	// StatusRinging means the callee has an open invitation.
	StatusRinging Status = "ringing"

	// StatusAccepted means the callee answered and media setup is the
	// peers' business from here on.
	StatusAccepted Status = "accepted"

	// StatusRejected means the callee explicitly declined.
	StatusRejected Status = "rejected"

	// StatusMissed means the invitation expired without an answer.
	StatusMissed Status = "missed"

	// StatusBusy means the callee was already in another call.
	StatusBusy Status = "busy"

	// StatusEnded means an established call was hung up, or an attempt
	// was abandoned by the caller.
	StatusEnded Status = "ended"
)

// Terminal reports whether the status is final: terminal records never
// transition again and the watcher stops tracking them.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusMissed, StatusBusy, StatusEnded:
		return true
	}
	return false
}

// Active reports whether the record represents a call that is ringing
// or in progress.
func (s Status) Active() bool {
	return s == StatusRinging || s == StatusAccepted
}

// CallRecord is one row of the video_calls table.
type CallRecord struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	RoomName        string    `json:"room_name"`
	CallerUserID    string    `json:"caller_user_id"`
	CallerPersonaID string    `json:"caller_persona_id"`
	CalleeUserID    string    `json:"callee_user_id"`
	CalleePersonaID string    `json:"callee_persona_id"`
	Status          Status    `json:"status"`
	EndReason       string    `json:"end_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// AcceptedAt and EndedAt are set by the server when the record
	// passes through the corresponding transition.
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Duration returns the connected time of a completed call, or zero
// when the call was never accepted or has not ended.
func (r *CallRecord) Duration() time.Duration {
	if r.AcceptedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.AcceptedAt)
}

// Caller returns the initiating side as an identity pair.
func (r *CallRecord) Caller() identity.Identity {
	return identity.Identity{UserID: r.CallerUserID, PersonaID: r.CallerPersonaID}
}

// Callee returns the invited side as an identity pair.
func (r *CallRecord) Callee() identity.Identity {
	return identity.Identity{UserID: r.CalleeUserID, PersonaID: r.CalleePersonaID}
}

// PeerOf returns the other participant from the perspective of the
// given user, matching on the user half only.
func (r *CallRecord) PeerOf(userID string) identity.Identity {
	if r.CallerUserID == userID {
		return r.Callee()
	}
	return r.Caller()
}

// IsCallee reports whether the given user is the invited side.
func (r *CallRecord) IsCallee(userID string) bool {
	return r.CalleeUserID == userID
}
