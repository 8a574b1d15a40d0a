// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package this codebase schedules with.
// Code that would call time.Now, time.After, time.AfterFunc, or
// time.NewTicker takes a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once duration d elapses.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (real clock) or synchronously during Advance (fake).
	// The returned Timer cancels the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C at the given interval. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. C has capacity 1: ticks are dropped,
// not queued, when the consumer falls behind (matching time.Ticker).
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. No ticks are sent after Stop returns.
// Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Timer represents one scheduled AfterFunc call. C is always nil,
// matching time.AfterFunc.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if it already
// fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
