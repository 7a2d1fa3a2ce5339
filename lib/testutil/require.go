// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// T is the part of testing.TB the helpers need.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first. what describes
// the wait: a plain string, or a format string and its arguments.
//
//	status := testutil.RequireReceive(t, statuses, 5*time.Second, "Bob connected")
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, what ...any) V {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer deadline.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", describe(what))
		}
		return v
	case <-deadline.C:
		t.Fatalf("%s: nothing received after %v", describe(what), timeout)
	}
	panic("unreachable")
}

// RequireClosed waits until done is closed, as Connection.Done and
// similar signals are, failing the test after timeout.
//
//	testutil.RequireClosed(t, conn.Done(), 5*time.Second, "link refused")
func RequireClosed(t T, done <-chan struct{}, timeout time.Duration, what ...any) {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer deadline.Stop()
	select {
	case <-done:
	case <-deadline.C:
		t.Fatalf("%s: still open after %v", describe(what), timeout)
	}
}

func describe(what []any) string {
	switch {
	case len(what) == 0:
		return "waiting"
	case len(what) == 1:
		return fmt.Sprint(what[0])
	}
	if format, ok := what[0].(string); ok {
		return fmt.Sprintf(format, what[1:]...)
	}
	return fmt.Sprint(what...)
}
