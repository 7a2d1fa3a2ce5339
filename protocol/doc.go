// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the packets exchanged between Lockstep
// peers and the reasons a session can end.
//
// A packet on the wire is one CBOR map (see lib/codec) with an integer
// "type" field and type-specific fields beside it:
//
//	{"type": 5, "playing": true, "time": 61250, "timestamp": 1767225600000}
//
// [Parse] accepts any map whose "type" is a known [PacketType] and
// keeps the remaining fields undecoded, so unknown fields survive a
// relay untouched. [Packet.Decode] then checks that the fields a
// payload needs are present and well-typed before handing back a typed
// payload such as [SyncMedia]. [New] goes the other way.
//
// Parse failures wrap [ErrMalformedPacket]; a peer that sends one is
// disconnected. Decode failures wrap [ErrInvalidPayload]; the packet
// is dropped (or, for MEDIA_SYNC_INIT, the session closes with
// [ReasonUnexpectedPacket]).
package protocol
