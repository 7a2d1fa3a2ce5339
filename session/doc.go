// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs watch-party sessions.
//
// A [Session] is the shared lifecycle of one party's participation: it
// is open until closed with a [protocol.CloseReason], and it publishes
// a [Status] snapshot to observers whenever the roster or connection
// state changes. The snapshot becomes nil once the session closes.
//
// The role-specific behaviour lives in a [Handler]:
//
//   - [HostHandler] generates an access token and listens. Each joining
//     connection must authenticate; authenticated guests join the
//     roster, every guest receives the updated roster, and the new
//     guest receives the media sync init packet. Guests opt in and out
//     of media relay with START_MEDIA_SYNC and STOP_MEDIA_SYNC.
//   - [ClientHandler] dials the host, authenticates, follows roster
//     updates, and runs the media sync client. It closes the session
//     with Timeout if the link does not open, Unauthorized if the host
//     does not acknowledge the token, and Disconnected when the link
//     drops.
//
// A [Manager] keys sessions by slot (one browser tab, one terminal
// pane) and guarantees at most one open session per slot: a new
// session closes the previous one with Superseded before starting.
package session
