// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend wraps the hosted backend-as-a-service the messaging
// client runs on.
//
// Two transports are exposed. [Client] is the HTTP side: row reads via
// Select, and server-validated remote procedures via RPC (the call
// ledger's create/accept/reject/end transitions are PostgREST-style
// functions; the server is the only legitimate mutator of call
// status). All API errors come back as [*BackendError] with the
// server's error code and HTTP status; [IsBackendError] tests for a
// specific code.
//
// [Realtime] is the websocket side: a phoenix-framed connection
// multiplexing topic-scoped channels. A joined [RealtimeTopic] carries
// best-effort broadcast messages (the call signaling relay) and
// row-change notifications for subscribed tables (the ledger's push
// feed). Delivery is at-most-once with no persistence, so consumers that
// need correctness keep their own reconciliation path.
//
// Credentials are read-only inputs refreshed externally: the client
// stores the current access token behind SetAccessToken and never
// refreshes it itself.
package backend
