// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport supplies peer links to the session engine.
//
// A [Link] is one message-oriented, ordered, reliable duplex channel
// to a remote peer. A [Transport] hands out links: [Transport.Dial]
// starts an outbound link and [Transport.Accept] yields inbound ones.
// Links report opening through [Link.Opened] and delivery through
// [Link.Messages]; closing of the message channel is the close event
// and [Link.Err] tells an error apart from an orderly close.
//
// Two implementations exist. [WebRTCTransport] uses pion/webrtc data
// channels with vanilla ICE: all candidates are gathered before the
// SDP is published through a [Signaler], so establishing a
// PeerConnection takes a single offer/answer round-trip. Each remote
// peer gets one PeerConnection; every Dial opens a new ordered data
// channel on it. [MemoryNetwork] connects transports inside one
// process and backs the session tests and the demo binary.
package transport
