// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/palaver-chat/palaver/backend"
)

// RealtimeFeed adapts the backend's row-change notifications for the
// video_calls table into the watcher's Change stream. Delivery is
// best-effort; the watcher's poll catches anything dropped here.
type RealtimeFeed struct {
	topic   *backend.RealtimeTopic
	changes chan Change
	logger  *slog.Logger
}

// OpenRealtimeFeed subscribes to changes on video_calls rows where the
// user is caller or callee. Close the feed when done; the returned
// channel is closed when the subscription ends.
func OpenRealtimeFeed(ctx context.Context, realtime *backend.Realtime, userID string, logger *slog.Logger) (*RealtimeFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Two bindings: the relay filter language has no OR, so the caller
	// and callee sides subscribe separately on one topic.
	joinConfig := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]any{
				{
					"event":  "*",
					"schema": "public",
					"table":  "video_calls",
					"filter": "caller_user_id=eq." + userID,
				},
				{
					"event":  "*",
					"schema": "public",
					"table":  "video_calls",
					"filter": "callee_user_id=eq." + userID,
				},
			},
		},
	}
	topic, err := realtime.Join(ctx, "ledger:video_calls:"+userID, joinConfig)
	if err != nil {
		return nil, fmt.Errorf("ledger: subscribing to call changes: %w", err)
	}

	feed := &RealtimeFeed{
		topic:   topic,
		changes: make(chan Change, 16),
		logger:  logger,
	}
	go feed.pump()
	return feed, nil
}

// Changes returns the stream the watcher consumes.
func (f *RealtimeFeed) Changes() <-chan Change { return f.changes }

// Close leaves the subscription and closes the change stream.
func (f *RealtimeFeed) Close() error {
	return f.topic.Leave(context.Background())
}

func (f *RealtimeFeed) pump() {
	defer close(f.changes)
	for event := range f.topic.Events() {
		if event.Kind != "postgres_changes" {
			continue
		}
		change, ok := f.parse(event)
		if !ok {
			continue
		}
		select {
		case f.changes <- change:
		default:
			f.logger.Warn("call change feed full, notification dropped",
				"type", change.Type, "call_id", change.ID)
		}
	}
}

func (f *RealtimeFeed) parse(event backend.RealtimeEvent) (Change, bool) {
	var data struct {
		Type      string          `json:"type"`
		Record    json.RawMessage `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
	}
	if err := json.Unmarshal(event.Payload, &data); err != nil {
		f.logger.Warn("malformed call change notification, dropped", "error", err)
		return Change{}, false
	}

	switch data.Type {
	case "INSERT", "UPDATE":
		var record CallRecord
		if err := json.Unmarshal(data.Record, &record); err != nil || record.ID == "" {
			f.logger.Warn("call change carried no usable record, dropped",
				"type", data.Type, "error", err)
			return Change{}, false
		}
		changeType := ChangeInserted
		if data.Type == "UPDATE" {
			changeType = ChangeUpdated
		}
		return Change{Type: changeType, Record: &record, ID: record.ID}, true

	case "DELETE":
		var old struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data.OldRecord, &old); err != nil || old.ID == "" {
			f.logger.Warn("call deletion carried no row ID, dropped", "error", err)
			return Change{}, false
		}
		return Change{Type: ChangeDeleted, ID: old.ID}, true
	}
	return Change{}, false
}
