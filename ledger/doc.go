// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger is the client for the durable call-invitation record.
//
// Every call attempt has exactly one row in the backend's video_calls
// table. The row's status walks a fixed lifecycle and the server is its
// only legitimate mutator: [Client] requests transitions through the
// backend's validated RPCs (create/accept/reject/end) and never writes
// status directly. Accept, reject, and end are idempotent from the
// caller's perspective: a transition the server reports as already
// settled is success, not an error.
//
// [Watcher] observes records where the local user is caller or callee
// through two merged sources: the push feed of row-change
// notifications, and a periodic reconciliation poll that re-reads
// active records and replays anything the push path missed. Push
// delivery over the shared relay is not guaranteed; the poll is the
// correctness backstop. A seen set keyed by record ID deduplicates the
// two sources and is evicted as records reach a terminal status, so
// its size is bounded by the number of concurrently active calls.
package ledger
