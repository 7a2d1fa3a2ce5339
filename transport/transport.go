// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
)

// Link is a duplex message channel to one remote peer.
type Link interface {
	// RemoteID identifies the remote peer.
	RemoteID() string

	// Opened is closed once the link can carry messages. A link that
	// closes before opening never closes Opened.
	Opened() <-chan struct{}

	// Messages delivers inbound messages in send order. It is closed
	// when the link closes, from either side.
	Messages() <-chan []byte

	// Send transmits one message. It does not wait for delivery.
	Send(message []byte) error

	// Close tears the link down. Safe to call more than once.
	Close() error

	// Err returns the error that ended the link, or nil for an orderly
	// close. Meaningful once Messages is closed.
	Err() error
}

// Transport creates links to and accepts links from remote peers.
type Transport interface {
	// ID returns this endpoint's identifier, waiting until the
	// transport has been assigned one.
	ID(ctx context.Context) (string, error)

	// Dial starts an outbound link to remoteID. The returned link may
	// still be opening; callers wait on Opened with their own timeout
	// and Close it to abandon the attempt.
	Dial(ctx context.Context, remoteID string) (Link, error)

	// Accept yields links opened by remote peers. The channel is
	// never closed; stop reading when the transport is closed.
	Accept() <-chan Link

	// Close shuts down the transport and every link it created.
	Close() error
}

var (
	// ErrPeerUnavailable means no peer with the dialed identifier is
	// reachable.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrNotOpen is returned by Send on a link that has not opened.
	ErrNotOpen = errors.New("link not open")
)
