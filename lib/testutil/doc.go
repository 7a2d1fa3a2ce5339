// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock guards used by Lockstep tests.
//
// Protocol timers in tests run on a fake clock. [RequireReceive] and
// [RequireClosed] are the only real timeouts, and they only bound how
// long a broken test can hang before it fails.
package testutil
