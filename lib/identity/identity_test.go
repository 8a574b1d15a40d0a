// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "testing"

func TestNew_RequiresUserID(t *testing.T) {
	if _, err := New("", "persona"); err == nil {
		t.Fatal("New accepted an empty user ID")
	}
	id, err := New("user-1", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id.IsZero() {
		t.Fatal("valid identity reported as zero")
	}
}

func TestValidate_RejectsMissingUser(t *testing.T) {
	if err := (Identity{PersonaID: "work"}).Validate(); err == nil {
		t.Fatal("Validate accepted an identity without a user ID")
	}
	if err := (Identity{UserID: "user-1"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSameUser_IgnoresPersona(t *testing.T) {
	a := Identity{UserID: "user-1", PersonaID: "work"}
	b := Identity{UserID: "user-1", PersonaID: "home"}
	c := Identity{UserID: "user-2", PersonaID: "work"}

	if !a.SameUser(b) {
		t.Error("same user with different personas not matched")
	}
	if a.SameUser(c) {
		t.Error("different users matched")
	}
}

func TestString(t *testing.T) {
	if got := (Identity{UserID: "u", PersonaID: "p"}).String(); got != "u/p" {
		t.Errorf("String = %q", got)
	}
	if got := (Identity{UserID: "u"}).String(); got != "u" {
		t.Errorf("String = %q", got)
	}
}
