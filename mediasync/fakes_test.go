// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/lib/testutil"
	"github.com/lockstep-party/lockstep/peer"
	"github.com/lockstep-party/lockstep/protocol"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func controllerOptions(c clock.Clock) ControllerOptions {
	return ControllerOptions{Clock: c, Logger: quietLogger()}
}

// fakeConn is a Conn whose inbound traffic is injected by the test.
type fakeConn struct {
	id      string
	packets event.Emitter[protocol.Packet]
	closes  event.Emitter[peer.CloseEvent]
	sent    chan protocol.Packet

	mu     sync.Mutex
	closed bool
}

var _ Conn = (*fakeConn)(nil)

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, sent: make(chan protocol.Packet, 64)}
}

func (c *fakeConn) RemoteID() string { return c.id }

func (c *fakeConn) Send(packet protocol.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return peer.ErrClosed
	}
	c.sent <- packet
	return nil
}

func (c *fakeConn) SendPayload(payload protocol.Payload) error {
	packet, err := protocol.New(payload)
	if err != nil {
		return err
	}
	return c.Send(packet)
}

func (c *fakeConn) OnPacket(fn func(protocol.Packet)) event.Handle { return c.packets.On(fn) }

// OnClose runs fn at once on a closed connection, as peer.Connection
// does.
func (c *fakeConn) OnClose(fn func(peer.CloseEvent)) event.Handle {
	handle := c.closes.Once(fn)
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed && c.closes.Off(handle) {
		fn(peer.CloseEvent{})
	}
	return handle
}

// observers counts the packet and close observers still registered.
func (c *fakeConn) observers() int {
	return c.packets.Len() + c.closes.Len()
}

func (c *fakeConn) Off(handle event.Handle) bool {
	return c.packets.Off(handle) || c.closes.Off(handle)
}

func (c *fakeConn) receive(packet protocol.Packet) {
	c.packets.Emit(packet)
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closes.Emit(peer.CloseEvent{})
}

// nextSent returns the next packet the code under test sent, skipping
// packets of other types.
func (c *fakeConn) nextSent(t *testing.T, want protocol.PacketType) protocol.Packet {
	t.Helper()
	for {
		packet := testutil.RequireReceive(t, c.sent, 5*time.Second, "waiting for %s on %s", want, c.id)
		if packet.Type == want {
			return packet
		}
	}
}

func (c *fakeConn) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case packet := <-c.sent:
		t.Fatalf("%s was sent unexpected %s", c.id, packet.Diagnose())
	default:
	}
}

func decodeSync(t *testing.T, packet protocol.Packet) protocol.SyncMedia {
	t.Helper()
	var sync protocol.SyncMedia
	if err := packet.Decode(&sync); err != nil {
		t.Fatalf("decoding SYNC_MEDIA: %v", err)
	}
	return sync
}

func collectPackets(controller *Controller) <-chan protocol.Packet {
	packets := make(chan protocol.Packet, 64)
	controller.OnPacket(func(packet protocol.Packet) { packets <- packet })
	return packets
}
