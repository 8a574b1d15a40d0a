// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/palaver-chat/palaver/lib/identity"
)

// topicPrefix namespaces call signaling on the shared relay so message
// and presence traffic for the conversation lives on other topics.
const topicPrefix = "call:"

// ChannelConfig holds configuration for creating a Channel.
type ChannelConfig struct {
	// Self is the local participant. Inbound signals not addressed to
	// this user are dropped, as are the user's own echoed signals.
	Self identity.Identity
	// Transport is the relay to ride.
	Transport Transport
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Channel is the conversation-scoped signal adapter: one relay
// subscription per conversation, point-to-point addressing on top of
// the broadcast topic. Safe for concurrent use.
type Channel struct {
	self      identity.Identity
	transport Transport
	logger    *slog.Logger

	mu             sync.Mutex
	conversationID string
	session        TopicSession

	handlersMu sync.RWMutex
	handlers   []func(*Signal)
}

// NewChannel creates an unconnected Channel.
func NewChannel(config ChannelConfig) (*Channel, error) {
	if config.Self.IsZero() {
		return nil, fmt.Errorf("signaling: ChannelConfig.Self is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("signaling: ChannelConfig.Transport is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		self:      config.Self,
		transport: config.Transport,
		logger:    logger,
	}, nil
}

// OnSignal registers a handler for inbound signals that pass the
// delivery filter. Handlers run on the receive goroutine and must not
// block.
func (c *Channel) OnSignal(handler func(*Signal)) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, handler)
	c.handlersMu.Unlock()
}

// Connect opens the subscription for a conversation. Reconnecting with
// the same conversation ID while connected is a no-op; a different ID
// releases the old subscription first. Failure (typically stale
// credentials) is logged and returned; the caller refreshes
// credentials and retries.
func (c *Channel) Connect(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("signaling: conversation ID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if c.conversationID == conversationID {
			return nil
		}
		c.closeLocked()
	}

	session, err := c.transport.Join(ctx, topicPrefix+conversationID)
	if err != nil {
		c.logger.Warn("signal channel connect failed",
			"conversation_id", conversationID,
			"error", err,
		)
		return fmt.Errorf("signaling: connecting to conversation %s: %w", conversationID, err)
	}

	c.conversationID = conversationID
	c.session = session
	go c.receiveLoop(session)

	c.logger.Debug("signal channel connected", "conversation_id", conversationID)
	return nil
}

// Connected reports whether a subscription is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// ConversationID returns the connected conversation, or "".
func (c *Channel) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.conversationID
}

// Send publishes a signal, fire-and-forget: it returns once the
// transport accepts the frame. There is no acknowledgment and no
// retry; the ledger record, not the signal, is the source of truth.
func (c *Channel) Send(ctx context.Context, signal *Signal) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("signaling: channel not connected")
	}

	data, err := Encode(signal)
	if err != nil {
		return err
	}
	if err := session.Publish(ctx, data); err != nil {
		return fmt.Errorf("signaling: publishing %s signal: %w", signal.Kind, err)
	}
	return nil
}

// Close releases the subscription. Idempotent. After Close the
// transport holds no reference to this channel, so repeated
// call dialogs never leak listeners.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// closeLocked releases the current session. Caller holds c.mu.
func (c *Channel) closeLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Warn("signal channel close failed",
			"conversation_id", c.conversationID,
			"error", err,
		)
	}
	c.session = nil
	c.conversationID = ""
}

// receiveLoop decodes and filters inbound frames for one session's
// lifetime. The filter runs here regardless of whether the transport
// loops the sender's own frames back.
func (c *Channel) receiveLoop(session TopicSession) {
	for data := range session.Receive() {
		signal, err := Decode(data)
		if err != nil {
			c.logger.Warn("invalid signal dropped", "error", err)
			continue
		}
		// Point-to-point filter on the broadcast topic: only signals
		// addressed to this user, never the user's own echo.
		if signal.Sender.SameUser(c.self) {
			continue
		}
		if !signal.Target.SameUser(c.self) {
			continue
		}

		c.handlersMu.RLock()
		handlers := make([]func(*Signal), len(c.handlers))
		copy(handlers, c.handlers)
		c.handlersMu.RUnlock()
		for _, handler := range handlers {
			handler(signal)
		}
	}
}
