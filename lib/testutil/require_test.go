// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// recordingTB captures Fatalf instead of stopping the test.
type recordingTB struct {
	failure string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failure = fmt.Sprintf(format, args...)
	panic(r)
}

// capture runs f and returns the failure message, if any.
func capture(f func(tb TB)) (failure string) {
	tb := &recordingTB{}
	defer func() {
		if recovered := recover(); recovered != nil && recovered != tb {
			panic(recovered)
		}
		failure = tb.failure
	}()
	f(tb)
	return ""
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "value"); got != 7 {
		t.Fatalf("RequireReceive = %d, want 7", got)
	}

	failure := capture(func(tb TB) { RequireReceive(tb, make(chan int), time.Millisecond, "cache %d", 3) })
	if failure != "no value after 1ms: cache 3" {
		t.Errorf("timeout failure = %q", failure)
	}

	closed := make(chan int)
	close(closed)
	failure = capture(func(tb TB) { RequireReceive(tb, closed, time.Second, "reader") })
	if failure != "channel closed while waiting for reader" {
		t.Errorf("closed failure = %q", failure)
	}
}

func TestRequireSendAndClosed(t *testing.T) {
	ch := make(chan string, 1)
	RequireSend(t, ch, "ok", time.Second)
	if <-ch != "ok" {
		t.Fatal("value not sent")
	}
	if failure := capture(func(tb TB) { RequireSend(tb, make(chan string), "x", time.Millisecond) }); failure == "" {
		t.Error("RequireSend on a blocked channel did not fail")
	}

	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second)
	if failure := capture(func(tb TB) { RequireClosed(tb, make(chan struct{}), time.Millisecond) }); failure == "" {
		t.Error("RequireClosed on an open channel did not fail")
	}
}

func TestRequireEmpty(t *testing.T) {
	ch := make(chan int, 1)
	RequireEmpty(t, ch)

	ch <- 4
	failure := capture(func(tb TB) { RequireEmpty(tb, ch, "errors") })
	if failure != "unexpected value 4: errors" {
		t.Errorf("failure = %q", failure)
	}
}
