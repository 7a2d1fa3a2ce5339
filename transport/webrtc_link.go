// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lockstep-party/lockstep/lib/netutil"
)

// maxMessageSize is the largest data channel message a link reads.
// Matches pion's default SCTP maximum message size.
const maxMessageSize = 65536

// Compile-time interface check.
var _ Link = (*webrtcLink)(nil)

// webrtcLink is a Link over one detached data channel. Outbound links
// exist before their channel does: attach supplies it once open.
type webrtcLink struct {
	remoteID string
	cancel   context.CancelFunc

	opened   chan struct{}
	messages chan []byte
	closed   chan struct{}

	mu       sync.Mutex
	channel  *webrtc.DataChannel
	raw      io.ReadWriteCloser
	isClosed bool
	err      error
}

func newWebRTCLink(remoteID string, cancel context.CancelFunc) *webrtcLink {
	return &webrtcLink{
		remoteID: remoteID,
		cancel:   cancel,
		opened:   make(chan struct{}),
		messages: make(chan []byte),
		closed:   make(chan struct{}),
	}
}

func (l *webrtcLink) RemoteID() string        { return l.remoteID }
func (l *webrtcLink) Opened() <-chan struct{} { return l.opened }
func (l *webrtcLink) Messages() <-chan []byte { return l.messages }

func (l *webrtcLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *webrtcLink) Send(message []byte) error {
	l.mu.Lock()
	raw, closed := l.raw, l.isClosed
	l.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	if raw == nil {
		return ErrNotOpen
	}
	_, err := raw.Write(message)
	return err
}

// attach binds the open data channel and starts reading. It reports
// false if the link was closed first, in which case the channel is
// closed too.
func (l *webrtcLink) attach(channel *webrtc.DataChannel, raw io.ReadWriteCloser) bool {
	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		raw.Close()
		channel.Close()
		return false
	}
	l.channel, l.raw = channel, raw
	l.mu.Unlock()

	close(l.opened)
	go l.readLoop(raw)
	return true
}

// fail closes a link that never opened, recording why.
func (l *webrtcLink) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	l.Close()
}

func (l *webrtcLink) Close() error {
	l.mu.Lock()
	if l.isClosed {
		l.mu.Unlock()
		return nil
	}
	l.isClosed = true
	channel, raw := l.channel, l.raw
	l.mu.Unlock()

	close(l.closed)
	if l.cancel != nil {
		l.cancel()
	}
	if raw == nil {
		// No reader goroutine exists to close messages.
		close(l.messages)
		return nil
	}
	raw.Close()
	return channel.Close()
}

func (l *webrtcLink) readLoop(raw io.ReadWriteCloser) {
	defer close(l.messages)
	buffer := make([]byte, maxMessageSize)
	for {
		n, err := raw.Read(buffer)
		if err != nil {
			l.mu.Lock()
			if !l.isClosed && !netutil.IsExpectedCloseError(err) && l.err == nil {
				l.err = err
			}
			l.mu.Unlock()
			l.Close()
			return
		}
		message := make([]byte, n)
		copy(message, buffer[:n])
		select {
		case l.messages <- message:
		case <-l.closed:
			return
		}
	}
}
