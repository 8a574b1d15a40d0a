// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects Real(); tests inject Fake(initial) and drive
// time with Advance. The ledger watcher's reconciliation ticker and the
// call engine's ring timeout both take a Clock so their timing behavior
// is deterministic under test.
package clock
