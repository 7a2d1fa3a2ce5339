// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint error handler shared by
// Lockstep binaries. It is the one place that writes to stderr before
// (or after) a structured logger exists.
package process
