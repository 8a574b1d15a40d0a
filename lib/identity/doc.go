// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity holds the participant identifier shared by the
// signaling, ledger, and call packages.
//
// A participant in a conversation is a (user, persona) pair: the raw
// account ID plus the acting persona (the profile the user operates as
// within that conversation). Signals are addressed and call records are
// keyed by both halves, so the pair travels together as one value type.
package identity
