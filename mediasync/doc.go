// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediasync keeps media playback in lock-step across peers.
//
// A [Controller] drives one [MediaElement]. Local play, pause and seek
// events become SYNC_MEDIA packets; inbound PLAY_MEDIA, PAUSE_MEDIA
// and SYNC_MEDIA packets are applied to the element. Remote positions
// are drift-compensated: a state observed at wall-clock time T with
// position P is applied at time N as P + (N - T) while playing, and as
// P while paused. Element events caused by applying a remote state are
// recognized within a tolerance window and not echoed back.
//
// On the hosting side, a [Server] owns the session's packet bus. The
// [Host] picks the media element to synchronize, binds a Controller to
// it, and joins the bus through [Server.SubscribeLocal]; each guest
// that asks for media sync joins through [Server.SubscribeRemote]. A
// state change from any party reaches every other party.
//
// On the joining side, a [Client] asks the host to start relaying,
// waits for MEDIA_SYNC_INIT, navigates to the host's page, binds the
// named element and sends its Controller's packets straight to the
// host connection.
package mediasync
