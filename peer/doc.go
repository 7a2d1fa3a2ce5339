// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer turns transport links into validated packet
// connections.
//
// A [Connection] wraps one [transport.Link]. Every inbound message is
// parsed with [protocol.Parse] before anything else sees it; a message
// that is not a well-formed packet is logged and the connection is
// closed, so malformed input never reaches packet handlers. Packets
// are delivered on the connection's reader goroutine, one at a time,
// in the order the link delivered them. Consumers either register an
// observer with [Connection.OnPacket] or wait for the next packet with
// [Connection.Expect]. Packets that arrive while neither exists are
// held in a small backlog and handed to the next observer, so a
// handshake that registers its first Expect a moment after the link
// opens does not lose the opening packet.
//
// A [Peer] owns a [transport.Transport] and every Connection built on
// it. Outbound links come from [Peer.ConnectTo]; inbound links are
// accepted only after [Peer.Listen] and are closed otherwise. A link
// that does not open within the open timeout is abandoned without ever
// producing a Connection. Each opened link yields exactly one
// Connection, passed to the Peer's [Handler].
package peer
