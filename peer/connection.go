// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/transport"
)

var (
	// ErrTimeout is returned by Expect when no packet arrives in time.
	ErrTimeout = errors.New("timed out waiting for packet")

	// ErrClosed is returned by operations on a closed Connection.
	ErrClosed = errors.New("connection closed")
)

// backlogLimit bounds the packets held for a consumer that has not
// registered yet. The oldest packet is dropped on overflow.
const backlogLimit = 64

// CloseEvent is delivered to close observers.
type CloseEvent struct {
	// Err is the error that ended the connection: a parse failure, a
	// transport error, or nil for an orderly close from either side.
	Err error
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// Clock drives Expect timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives parse failures and send errors. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Connection is a validated packet channel over one transport link.
// All methods are safe for concurrent use.
type Connection struct {
	link   transport.Link
	clock  clock.Clock
	logger *slog.Logger

	packets event.Emitter[protocol.Packet]
	closes  event.Emitter[CloseEvent]

	mu       sync.Mutex
	backlog  []protocol.Packet
	waiters  []chan protocol.Packet
	closeErr error

	flush     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps an opened link and starts reading from it.
func NewConnection(link transport.Link, options ConnectionOptions) *Connection {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	c := &Connection{
		link:   link,
		clock:  options.Clock,
		logger: options.Logger.With("remote", link.RemoteID()),
		flush:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// RemoteID identifies the peer at the other end.
func (c *Connection) RemoteID() string {
	return c.link.RemoteID()
}

// Send encodes and transmits packet without waiting for delivery.
func (c *Connection) Send(packet protocol.Packet) error {
	if c.Closed() {
		return ErrClosed
	}
	if err := c.link.Send(packet.Bytes()); err != nil {
		c.logger.Debug("send failed", "packet", packet.Type, "error", err)
		return fmt.Errorf("sending %s: %w", packet.Type, err)
	}
	return nil
}

// SendPayload builds a packet from payload and sends it.
func (c *Connection) SendPayload(payload protocol.Payload) error {
	packet, err := protocol.New(payload)
	if err != nil {
		return err
	}
	return c.Send(packet)
}

// OnPacket registers fn for every inbound packet. Packets held in the
// backlog are delivered to fn before any newer packet.
func (c *Connection) OnPacket(fn func(protocol.Packet)) event.Handle {
	handle := c.packets.On(fn)
	c.requestFlush()
	return handle
}

// OnClose registers fn to run once when the connection closes. If the
// connection is already closed, fn runs before OnClose returns.
func (c *Connection) OnClose(fn func(CloseEvent)) event.Handle {
	handle := c.closes.Once(fn)
	if c.Closed() {
		c.mu.Lock()
		closeErr := c.closeErr
		c.mu.Unlock()
		if c.closes.Off(handle) {
			fn(CloseEvent{Err: closeErr})
		}
	}
	return handle
}

// Off removes a packet or close observer.
func (c *Connection) Off(handle event.Handle) bool {
	return c.packets.Off(handle) || c.closes.Off(handle)
}

// Expect returns the next inbound packet. It fails with ErrTimeout
// once timeout elapses, with ErrClosed if the connection closes first,
// or with the context's error.
func (c *Connection) Expect(ctx context.Context, timeout time.Duration) (protocol.Packet, error) {
	waiter := make(chan protocol.Packet, 1)

	c.mu.Lock()
	if c.Closed() {
		c.mu.Unlock()
		return protocol.Packet{}, ErrClosed
	}
	if len(c.backlog) > 0 {
		packet := c.backlog[0]
		c.backlog = c.backlog[1:]
		c.mu.Unlock()
		return packet, nil
	}
	c.waiters = append(c.waiters, waiter)
	c.mu.Unlock()

	expired := make(chan struct{})
	timer := c.clock.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	var failure error
	select {
	case packet := <-waiter:
		return packet, nil
	case <-expired:
		failure = ErrTimeout
	case <-ctx.Done():
		failure = ctx.Err()
	case <-c.done:
		failure = ErrClosed
	}

	c.mu.Lock()
	for i, candidate := range c.waiters {
		if candidate == waiter {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	// A packet delivered while the wait was ending still counts.
	select {
	case packet := <-waiter:
		return packet, nil
	default:
		return protocol.Packet{}, failure
	}
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the connection has closed.
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close tears down the link. Close observers run exactly once, on the
// first call. Safe to call more than once.
func (c *Connection) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = cause
		c.backlog = nil
		c.waiters = nil
		close(c.done)
		c.mu.Unlock()

		if err := c.link.Close(); err != nil {
			c.logger.Debug("closing link", "error", err)
		}
		c.packets.Clear()
		c.closes.Emit(CloseEvent{Err: cause})
	})
}

func (c *Connection) requestFlush() {
	select {
	case c.flush <- struct{}{}:
	default:
	}
}

func (c *Connection) readLoop() {
	messages := c.link.Messages()
	for {
		select {
		case data, ok := <-messages:
			if !ok {
				c.shutdown(c.link.Err())
				return
			}
			packet, err := protocol.Parse(data)
			if err != nil {
				c.logger.Warn("closing connection after malformed packet",
					"error", err, "bytes", len(data))
				c.shutdown(err)
				return
			}
			c.deliver(&packet)
		case <-c.flush:
			c.deliver(nil)
		case <-c.done:
			return
		}
	}
}

// deliver appends incoming (if any) to the backlog, then drains the
// backlog in order for as long as someone is observing. Each pending
// Expect receives the head packet; so does every packet observer.
func (c *Connection) deliver(incoming *protocol.Packet) {
	for {
		c.mu.Lock()
		if incoming != nil {
			if len(c.backlog) == backlogLimit {
				c.logger.Warn("packet backlog full, dropping oldest packet", "packet", c.backlog[0].Type)
				c.backlog = c.backlog[1:]
			}
			c.backlog = append(c.backlog, *incoming)
			incoming = nil
		}
		if len(c.backlog) == 0 || c.Closed() || (len(c.waiters) == 0 && c.packets.Len() == 0) {
			c.mu.Unlock()
			return
		}
		packet := c.backlog[0]
		c.backlog = c.backlog[1:]
		waiters := c.waiters
		c.waiters = nil
		c.mu.Unlock()

		for _, waiter := range waiters {
			waiter <- packet
		}
		c.packets.Emit(packet)
	}
}
