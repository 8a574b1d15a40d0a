// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/palaver-chat/palaver/lib/clock"
)

// ChangeType discriminates the row-change notifications a feed emits.
type ChangeType string

const (
	ChangeInserted ChangeType = "inserted"
	ChangeUpdated  ChangeType = "updated"
	ChangeDeleted  ChangeType = "deleted"
)

// Change is one row-change notification. Record is set for inserts and
// updates; deletes carry only the row ID.
type Change struct {
	Type   ChangeType
	Record *CallRecord
	ID     string
}

// Store is the read side the watcher reconciles against. *Client
// satisfies it.
type Store interface {
	ActiveCalls(ctx context.Context, userID string) ([]CallRecord, error)
}

const defaultPollInterval = 3 * time.Second

// WatcherConfig carries the dependencies and callbacks for a Watcher.
type WatcherConfig struct {
	// UserID is the local user; only records naming this user as
	// caller or callee reach the callbacks.
	UserID string

	// Store serves the reconciliation poll.
	Store Store

	// Feed is the push source of row changes. May be nil, in which
	// case the watcher runs on polling alone.
	Feed <-chan Change

	// PollInterval is the reconciliation period. Zero means the 3s
	// default.
	PollInterval time.Duration

	// Clock drives the poll ticker. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger

	// OnIncoming fires once per call for a ringing record whose callee
	// is the local user. Duplicate notifications for the same record,
	// from either source, are suppressed.
	OnIncoming func(record *CallRecord)

	// OnChange fires when a tracked record's status moves, and for
	// records first observed in any non-ringing-incoming state.
	OnChange func(record *CallRecord)

	// OnDelete fires when a tracked record's row is removed.
	OnDelete func(callID string)
}

// Watcher merges the push feed and the reconciliation poll into a
// single deduplicated stream of callbacks. All callbacks run on the
// Run goroutine, so implementations need no locking against the
// watcher itself.
type Watcher struct {
	userID   string
	store    Store
	feed     <-chan Change
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	onIncoming func(*CallRecord)
	onChange   func(*CallRecord)
	onDelete   func(string)

	// seen maps record ID to the last status delivered to callbacks.
	// Terminal and deleted records are evicted.
	seen map[string]Status
}

// NewWatcher validates the config and returns a watcher ready to Run.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.UserID == "" {
		return nil, fmt.Errorf("ledger: watcher requires a user ID")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("ledger: watcher requires a store")
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Watcher{
		userID:     config.UserID,
		store:      config.Store,
		feed:       config.Feed,
		interval:   config.PollInterval,
		clock:      config.Clock,
		logger:     config.Logger,
		onIncoming: config.OnIncoming,
		onChange:   config.OnChange,
		onDelete:   config.OnDelete,
		seen:       make(map[string]Status),
	}, nil
}

// Run polls and consumes the feed until the context is cancelled. It
// reconciles once immediately so restarts pick up calls that were
// already ringing.
func (w *Watcher) Run(ctx context.Context) error {
	w.reconcile(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-w.feed:
			if !ok {
				// Feed closed underneath us; keep reconciling.
				w.feed = nil
				continue
			}
			w.apply(change)
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	records, err := w.store.ActiveCalls(ctx, w.userID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("call reconciliation failed", "error", err)
		}
		return
	}
	for i := range records {
		w.observe(&records[i])
	}
}

func (w *Watcher) apply(change Change) {
	switch change.Type {
	case ChangeInserted, ChangeUpdated:
		if change.Record == nil {
			return
		}
		w.observe(change.Record)
	case ChangeDeleted:
		id := change.ID
		if id == "" && change.Record != nil {
			id = change.Record.ID
		}
		if _, tracked := w.seen[id]; !tracked {
			return
		}
		delete(w.seen, id)
		if w.onDelete != nil {
			w.onDelete(id)
		}
	}
}

// observe folds one record state into the seen set and fires at most
// one callback. Records not involving the local user are dropped; the
// push filter and the poll query should both exclude them, but the
// watcher does not rely on that.
func (w *Watcher) observe(record *CallRecord) {
	if record.CallerUserID != w.userID && record.CalleeUserID != w.userID {
		return
	}
	prev, tracked := w.seen[record.ID]

	if record.Status.Terminal() {
		if !tracked {
			return
		}
		delete(w.seen, record.ID)
		if prev != record.Status && w.onChange != nil {
			w.onChange(record)
		}
		return
	}

	// initiating is transient: the server advances it to ringing before
	// the callee is notified, so tracking starts at ringing.
	if !record.Status.Active() {
		return
	}

	if !tracked {
		w.seen[record.ID] = record.Status
		if record.Status == StatusRinging && record.IsCallee(w.userID) {
			if w.onIncoming != nil {
				w.onIncoming(record)
			}
			return
		}
		if w.onChange != nil {
			w.onChange(record)
		}
		return
	}

	if prev == record.Status {
		return
	}
	w.seen[record.ID] = record.Status
	if w.onChange != nil {
		w.onChange(record)
	}
}

// Tracked returns the number of records currently in the seen set.
func (w *Watcher) Tracked() int {
	return len(w.seen)
}
