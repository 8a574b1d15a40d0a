// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "fmt"

// Identity is a (user, persona) pair identifying one call participant.
//
// UserID is the account identifier issued by the backend; PersonaID is
// the sub-identity the user is acting as in the conversation. Both are
// opaque strings to this codebase; the backend owns their format.
//
// Identity is an immutable value type. The zero value is not valid;
// use IsZero to check.
type Identity struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
}

// New validates and constructs an Identity. PersonaID may be empty
// (a user acting without an explicit persona); UserID may not.
func New(userID, personaID string) (Identity, error) {
	id := Identity{UserID: userID, PersonaID: personaID}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Validate checks an Identity that arrived from the wire rather than
// through New.
func (i Identity) Validate() error {
	if i.UserID == "" {
		return fmt.Errorf("identity: user ID must not be empty")
	}
	return nil
}

// String returns "userID/personaID", or just the user ID when no
// persona is set. For logging only, not a wire format.
func (i Identity) String() string {
	if i.PersonaID == "" {
		return i.UserID
	}
	return i.UserID + "/" + i.PersonaID
}

// IsZero reports whether the Identity is the zero value.
func (i Identity) IsZero() bool { return i.UserID == "" && i.PersonaID == "" }

// SameUser reports whether two identities belong to the same user
// account, regardless of persona. Signal delivery filters on the user
// half only: a signal addressed to the user is dispatched even if the
// persona differs (the persona is display context, not routing).
func (i Identity) SameUser(other Identity) bool { return i.UserID == other.UserID }
