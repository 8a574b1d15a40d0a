// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/palaver-chat/palaver/backend"
	"github.com/palaver-chat/palaver/lib/identity"
)

// ErrCreationRefused wraps backend rejections of a call attempt, such
// as the callee having no registered devices. Callers detect it with
// errors.Is and surface the wrapped backend hint to the user.
var ErrCreationRefused = errors.New("ledger: call creation refused")

// Client drives the server-validated lifecycle of call records. It
// never writes status columns directly; every transition goes through
// an RPC that enforces the legal transition graph.
type Client struct {
	backend *backend.Client
	logger  *slog.Logger
}

// NewClient returns a ledger client over the given backend connection.
func NewClient(b *backend.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{backend: b, logger: logger}
}

// Initiate creates the call record for a new outgoing call. The room
// name is generated client side and becomes the signaling topic both
// peers join. On success the returned record is already ringing; the
// server advances it past initiating before replying.
func (c *Client) Initiate(ctx context.Context, conversationID string, caller, callee identity.Identity) (*CallRecord, error) {
	roomName := "call-" + uuid.NewString()
	params := map[string]any{
		"p_conversation_id":   conversationID,
		"p_room_name":         roomName,
		"p_caller_persona_id": caller.PersonaID,
		"p_callee_user_id":    callee.UserID,
		"p_callee_persona_id": callee.PersonaID,
	}
	var record CallRecord
	if err := c.backend.RPC(ctx, "create_video_call", params, &record); err != nil {
		if backend.IsBackendError(err, backend.ErrCodeCalleeUnreachable) {
			return nil, fmt.Errorf("%w: %v", ErrCreationRefused, err)
		}
		return nil, fmt.Errorf("ledger: creating call record: %w", err)
	}
	c.logger.Info("call record created",
		"call_id", record.ID,
		"room", record.RoomName,
		"status", record.Status)
	return &record, nil
}

// Accept transitions a ringing record to accepted. Accepting a record
// the server reports as already settled is a no-op: the authoritative
// status arrives through the watcher either way.
func (c *Client) Accept(ctx context.Context, callID string) error {
	err := c.backend.RPC(ctx, "accept_video_call", map[string]any{"p_call_id": callID}, nil)
	if err != nil && !settled(err) {
		return fmt.Errorf("ledger: accepting call %s: %w", callID, err)
	}
	return nil
}

// Reject declines a ringing record with the given reason. Idempotent
// in the same way as Accept.
func (c *Client) Reject(ctx context.Context, callID, reason string) error {
	params := map[string]any{"p_call_id": callID, "p_reason": reason}
	err := c.backend.RPC(ctx, "reject_video_call", params, nil)
	if err != nil && !settled(err) {
		return fmt.Errorf("ledger: rejecting call %s: %w", callID, err)
	}
	return nil
}

// End terminates a record from any non-terminal status, recording the
// reason. Both sides race to call this on hangup and on failure paths,
// so an already-settled response is success.
func (c *Client) End(ctx context.Context, callID, reason string) error {
	params := map[string]any{"p_call_id": callID, "p_reason": reason}
	err := c.backend.RPC(ctx, "end_video_call", params, nil)
	if err != nil && !settled(err) {
		return fmt.Errorf("ledger: ending call %s: %w", callID, err)
	}
	return nil
}

// ActiveCalls reads every ringing or accepted record where the user is
// caller or callee, newest first. The watcher's reconciliation poll is
// its main consumer.
func (c *Client) ActiveCalls(ctx context.Context, userID string) ([]CallRecord, error) {
	query := url.Values{}
	query.Set("or", fmt.Sprintf("(caller_user_id.eq.%s,callee_user_id.eq.%s)", userID, userID))
	query.Set("status", "in.(ringing,accepted)")
	query.Set("order", "created_at.desc")
	var records []CallRecord
	if err := c.backend.Select(ctx, "video_calls", query, &records); err != nil {
		return nil, fmt.Errorf("ledger: listing active calls: %w", err)
	}
	return records, nil
}

// settled reports whether a transition RPC failed only because the
// record had already moved on or disappeared.
func settled(err error) bool {
	return backend.IsBackendError(err, backend.ErrCodeAlreadySettled) ||
		backend.IsBackendError(err, backend.ErrCodeNotFound)
}
