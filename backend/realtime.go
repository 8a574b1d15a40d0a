// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// joinTimeout bounds how long Join waits for the server's reply to a
// topic subscription before giving up.
const joinTimeout = 10 * time.Second

// defaultHeartbeatInterval is how often the connection-level heartbeat
// frame is sent when RealtimeConfig.HeartbeatInterval is zero.
const defaultHeartbeatInterval = 30 * time.Second

// topicBuffer is the per-topic inbound event buffer. Events beyond the
// buffer are dropped: the relay is best-effort at-most-once, and slow
// consumers must not stall the read loop for other topics.
const topicBuffer = 64

// RealtimeConfig holds configuration for dialing the realtime socket.
type RealtimeConfig struct {
	// URL is the websocket endpoint. If empty, it is derived from
	// BaseURL by swapping the scheme and appending the realtime path.
	URL string
	// BaseURL is the project base URL, used only when URL is empty.
	BaseURL string
	// APIKey is the project's public API key.
	APIKey string
	// AccessToken authorizes the subscription. Stale tokens make Join
	// fail; the caller refreshes and retries.
	AccessToken string
	// HeartbeatInterval overrides the keepalive period. Zero means the
	// default (30s).
	HeartbeatInterval time.Duration
	// Dialer is used to establish the websocket. If nil,
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// realtimeFrame is the wire shape of every message on the socket.
type realtimeFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// RealtimeEvent is one inbound message on a joined topic.
type RealtimeEvent struct {
	// Kind is "broadcast" for relayed messages or "postgres_changes"
	// for row-change notifications.
	Kind string
	// Event is the broadcast event name, or the change action
	// (INSERT, UPDATE, DELETE).
	Event string
	// Payload is the broadcast payload, or for row changes the data
	// object carrying the new and old row JSON.
	Payload json.RawMessage
}

// Realtime is a multiplexed websocket connection to the backend's
// relay. One connection carries any number of joined topics. Safe for
// concurrent use.
type Realtime struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex // serializes writes to the websocket

	mu      sync.Mutex
	topics  map[string]*RealtimeTopic
	replies map[string]chan realtimeFrame

	refCounter atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
}

// DialRealtime opens the websocket and starts the read and heartbeat
// loops. Call Close to release the connection.
func DialRealtime(ctx context.Context, config RealtimeConfig) (*Realtime, error) {
	endpoint := config.URL
	if endpoint == "" {
		if config.BaseURL == "" {
			return nil, fmt.Errorf("backend: realtime needs URL or BaseURL")
		}
		derived, err := deriveRealtimeURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		endpoint = derived
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("backend: realtime APIKey is required")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid realtime URL %q: %w", endpoint, err)
	}
	query := endpointURL.Query()
	query.Set("apikey", config.APIKey)
	query.Set("vsn", "1.0.0")
	endpointURL.RawQuery = query.Encode()

	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := dialer.DialContext(ctx, endpointURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("backend: dialing realtime socket: %w", err)
	}

	realtime := &Realtime{
		conn:    conn,
		logger:  logger,
		topics:  make(map[string]*RealtimeTopic),
		replies: make(map[string]chan realtimeFrame),
		closed:  make(chan struct{}),
	}

	heartbeat := config.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	go realtime.readLoop()
	go realtime.heartbeatLoop(heartbeat)

	return realtime, nil
}

// deriveRealtimeURL turns a project base URL into the websocket
// endpoint: https → wss, http → ws, plus the realtime path.
func deriveRealtimeURL(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("backend: invalid BaseURL %q: %w", baseURL, err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("backend: cannot derive realtime URL from scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/realtime/v1/websocket"
	return parsed.String(), nil
}

// Close tears down the connection and every joined topic. Idempotent.
func (r *Realtime) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.conn.Close()

		r.mu.Lock()
		for name, topic := range r.topics {
			topic.closeEvents()
			delete(r.topics, name)
		}
		r.mu.Unlock()
	})
	return nil
}

// Closed returns a channel that is closed when the connection is gone
// (explicit Close or read failure).
func (r *Realtime) Closed() <-chan struct{} { return r.closed }

// Join subscribes to a topic. joinConfig is the topic configuration
// payload (broadcast options, row-change bindings); nil sends an empty
// config. Join fails when the server refuses the subscription,
// typically on stale credentials, and the caller is expected to refresh
// and retry.
func (r *Realtime) Join(ctx context.Context, topic string, joinConfig any) (*RealtimeTopic, error) {
	r.mu.Lock()
	if existing, ok := r.topics[topic]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	payload := joinConfig
	if payload == nil {
		payload = map[string]any{"config": map[string]any{}}
	}
	reply, err := r.push(ctx, topic, "phx_join", payload, true)
	if err != nil {
		return nil, fmt.Errorf("backend: joining topic %s: %w", topic, err)
	}
	if err := checkReply(reply); err != nil {
		return nil, fmt.Errorf("backend: joining topic %s: %w", topic, err)
	}

	subscription := &RealtimeTopic{
		realtime: r,
		topic:    topic,
		events:   make(chan RealtimeEvent, topicBuffer),
	}
	r.mu.Lock()
	r.topics[topic] = subscription
	r.mu.Unlock()

	r.logger.Debug("realtime topic joined", "topic", topic)
	return subscription, nil
}

// push writes one frame. When awaitReply is set it registers a reply
// channel for the frame's ref and blocks until the server answers, ctx
// expires, or the connection closes.
func (r *Realtime) push(ctx context.Context, topic, event string, payload any, awaitReply bool) (realtimeFrame, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return realtimeFrame{}, fmt.Errorf("encoding payload: %w", err)
	}
	ref := strconv.FormatUint(r.refCounter.Add(1), 10)
	frame := realtimeFrame{Topic: topic, Event: event, Payload: encoded, Ref: ref}

	var replyCh chan realtimeFrame
	if awaitReply {
		replyCh = make(chan realtimeFrame, 1)
		r.mu.Lock()
		r.replies[ref] = replyCh
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.replies, ref)
			r.mu.Unlock()
		}()
	}

	r.writeMu.Lock()
	err = r.conn.WriteJSON(frame)
	r.writeMu.Unlock()
	if err != nil {
		return realtimeFrame{}, fmt.Errorf("writing frame: %w", err)
	}
	if !awaitReply {
		return realtimeFrame{}, nil
	}

	timer := time.NewTimer(joinTimeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return realtimeFrame{}, fmt.Errorf("no reply within %s", joinTimeout)
	case <-ctx.Done():
		return realtimeFrame{}, ctx.Err()
	case <-r.closed:
		return realtimeFrame{}, fmt.Errorf("connection closed")
	}
}

// checkReply validates a phx_reply payload ({status, response}).
func checkReply(reply realtimeFrame) error {
	var body struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return fmt.Errorf("malformed reply: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("server refused: %s", string(body.Response))
	}
	return nil
}

// readLoop pumps inbound frames until the connection dies, dispatching
// replies to waiting pushes and events to their topics.
func (r *Realtime) readLoop() {
	defer r.Close()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.closed:
			default:
				r.logger.Warn("realtime read failed", "error", err)
			}
			return
		}

		var frame realtimeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.logger.Warn("realtime frame not JSON, dropped", "error", err)
			continue
		}

		switch frame.Event {
		case "phx_reply":
			r.mu.Lock()
			replyCh, ok := r.replies[frame.Ref]
			r.mu.Unlock()
			if ok {
				select {
				case replyCh <- frame:
				default:
				}
			}

		case "phx_error", "phx_close":
			r.logger.Warn("realtime topic errored", "topic", frame.Topic, "event", frame.Event)

		case "broadcast":
			var body struct {
				Event   string          `json:"event"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal(frame.Payload, &body); err != nil {
				r.logger.Warn("malformed broadcast payload, dropped", "topic", frame.Topic, "error", err)
				continue
			}
			r.deliver(frame.Topic, RealtimeEvent{Kind: "broadcast", Event: body.Event, Payload: body.Payload})

		case "postgres_changes":
			var body struct {
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(frame.Payload, &body); err != nil {
				r.logger.Warn("malformed change payload, dropped", "topic", frame.Topic, "error", err)
				continue
			}
			// The action lives inside the data object; surface it as
			// the event name so consumers can switch without decoding.
			var action struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(body.Data, &action)
			r.deliver(frame.Topic, RealtimeEvent{Kind: "postgres_changes", Event: action.Type, Payload: body.Data})
		}
	}
}

// deliver routes one event to its topic's buffer, dropping on overflow.
// The send happens under r.mu, which also guards closeEvents, so a
// concurrent Leave cannot close the buffer mid-send. The send is
// non-blocking, so holding the lock cannot stall the read loop.
func (r *Realtime) deliver(topic string, event RealtimeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subscription, ok := r.topics[topic]
	if !ok {
		return
	}
	select {
	case subscription.events <- event:
	default:
		r.logger.Warn("realtime topic buffer full, event dropped",
			"topic", topic,
			"event", event.Event,
		)
	}
}

// heartbeatLoop keeps the connection alive. The server drops silent
// connections after about a minute.
func (r *Realtime) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.closed:
			return
		case <-ticker.C:
			if _, err := r.push(context.Background(), "phoenix", "heartbeat", map[string]any{}, false); err != nil {
				r.logger.Warn("realtime heartbeat failed", "error", err)
				return
			}
		}
	}
}

// RealtimeTopic is one joined topic on a Realtime connection.
type RealtimeTopic struct {
	realtime *Realtime
	topic    string

	eventsOnce sync.Once
	events     chan RealtimeEvent
}

// Topic returns the topic name.
func (t *RealtimeTopic) Topic() string { return t.topic }

// Events returns the inbound event stream. The channel is closed when
// the topic is left or the connection dies.
func (t *RealtimeTopic) Events() <-chan RealtimeEvent { return t.events }

// Broadcast publishes a best-effort message to every other subscriber
// of the topic. Returns once the frame is handed to the transport,
// not once delivered. No acknowledgment, no retry.
func (t *RealtimeTopic) Broadcast(ctx context.Context, event string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend: encoding broadcast payload: %w", err)
	}
	body := map[string]any{
		"type":    "broadcast",
		"event":   event,
		"payload": json.RawMessage(encoded),
	}
	if _, err := t.realtime.push(ctx, t.topic, "broadcast", body, false); err != nil {
		return fmt.Errorf("backend: broadcasting on %s: %w", t.topic, err)
	}
	return nil
}

// Leave unsubscribes from the topic and closes the event stream.
// Idempotent.
func (t *RealtimeTopic) Leave(ctx context.Context) error {
	t.realtime.mu.Lock()
	_, present := t.realtime.topics[t.topic]
	delete(t.realtime.topics, t.topic)
	if present {
		// Closed under the same lock deliver sends under.
		t.closeEvents()
	}
	t.realtime.mu.Unlock()
	if !present {
		return nil
	}

	_, err := t.realtime.push(ctx, t.topic, "phx_leave", map[string]any{}, false)
	if err != nil {
		return fmt.Errorf("backend: leaving topic %s: %w", t.topic, err)
	}
	return nil
}

func (t *RealtimeTopic) closeEvents() {
	t.eventsOnce.Do(func() { close(t.events) })
}
