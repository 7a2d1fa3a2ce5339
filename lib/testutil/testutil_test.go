// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recordingT captures Fatalf instead of stopping the test.
type recordingT struct {
	failed  bool
	message string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
	panic(r)
}

func capture(r *recordingT, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil && recovered != r {
			panic(recovered)
		}
	}()
	fn()
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "buffered value"); got != 7 {
		t.Fatalf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireReceiveTimesOut(t *testing.T) {
	recorder := &recordingT{}
	capture(recorder, func() {
		RequireReceive(recorder, make(chan int), 10*time.Millisecond, "waiting for %s", "nothing")
	})
	if !recorder.failed {
		t.Fatal("RequireReceive did not fail on an empty channel")
	}
	if !strings.Contains(recorder.message, "waiting for nothing") {
		t.Errorf("message = %q", recorder.message)
	}
}

func TestRequireClosed(t *testing.T) {
	ch := make(chan struct{})
	close(ch)
	RequireClosed(t, ch, time.Second, "closed channel")
}
