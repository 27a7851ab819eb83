// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	c.Advance(5 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("Now() after Advance = %v", got)
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(time.Second)

	select {
	case <-channel:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(999 * time.Millisecond)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(time.Second)) {
			t.Errorf("fired at %v", fired)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after firing", c.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) not ready immediately")
	}
	if c.PendingCount() != 0 {
		t.Errorf("After(0) registered a waiter")
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)

	c.Advance(10 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire")
	}

	// Three intervals at once deliver a single tick.
	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after a long advance")
	}
	select {
	case <-ticker.C:
		t.Fatal("ticker delivered more than one buffered tick")
	default:
	}

	ticker.Stop()
	c.Advance(10 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after Stop", c.PendingCount())
	}
}

func TestFakeTickerPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})

	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiting goroutine was not released")
	}
}

func TestRealClock(t *testing.T) {
	c := Real()
	before := time.Now()
	if c.Now().Before(before) {
		t.Fatal("Real().Now() went backwards")
	}
	select {
	case <-c.After(0):
	case <-time.After(5 * time.Second):
		t.Fatal("Real().After(0) did not fire")
	}
	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C:
	case <-time.After(5 * time.Second):
		t.Fatal("Real ticker did not fire")
	}
}
