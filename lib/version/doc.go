// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for Lockstep binaries and
// the media-sync protocol version this build speaks.
//
// # Build information
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected at
// build time with -ldflags -X and default to "unknown" / "0.1.0-dev"
// in development builds. [Info], [Full], and [Short] format them.
//
// # Protocol version
//
// [Protocol] is the media-sync wire version. A host announces it in
// MEDIA_SYNC_INIT; a client compares it against its own with
// [CompareProtocol] and refuses to sync across a mismatch.
package version
