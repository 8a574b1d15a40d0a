// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

// TestFakeClock_AfterFiresOnAdvance verifies that After channels fire
// only once the clock advances past their deadline.
func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	ch := fake.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(1 * time.Second)
	select {
	case fired := <-ch:
		want := time.Unix(1005, 0)
		if !fired.Equal(want) {
			t.Errorf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

// TestFakeClock_AfterFuncStop verifies that a stopped AfterFunc never
// fires and that Stop reports whether it prevented the call.
func TestFakeClock_AfterFuncStop(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("first Stop() = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	fake.Advance(2 * time.Second)
	if fired {
		t.Error("stopped AfterFunc fired")
	}
}

// TestFakeClock_TickerRepeats verifies that a ticker fires once per
// interval spanned by an Advance, dropping overflow ticks.
func TestFakeClock_TickerRepeats(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(3 * time.Second)
	defer ticker.Stop()

	fake.Advance(3 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	// Advancing across two intervals fires twice, but the capacity-1
	// channel retains only one tick.
	fake.Advance(6 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after two intervals")
	}
	select {
	case <-ticker.C:
		t.Error("overflow tick was queued, want dropped")
	default:
	}

	ticker.Stop()
	fake.Advance(10 * time.Second)
	select {
	case <-ticker.C:
		t.Error("stopped ticker fired")
	default:
	}
}

// TestFakeClock_WaitForTimers verifies the registration/advance
// synchronization helper.
func TestFakeClock_WaitForTimers(t *testing.T) {
	fake := Fake(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		<-fake.After(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	if got := fake.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}
	fake.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter goroutine did not observe the advance")
	}
}
