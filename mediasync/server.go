// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"log/slog"
	"sync"

	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/packetbus"
	"github.com/lockstep-party/lockstep/peer"
	"github.com/lockstep-party/lockstep/protocol"
)

// Conn is the part of a peer connection media sync uses.
type Conn interface {
	RemoteID() string
	Send(protocol.Packet) error
	SendPayload(protocol.Payload) error
	OnPacket(func(protocol.Packet)) event.Handle
	OnClose(func(peer.CloseEvent)) event.Handle
	Off(event.Handle) bool
}

var _ Conn = (*peer.Connection)(nil)

// Server owns a host session's packet bus and attaches local
// controllers and remote connections to it.
type Server struct {
	bus    *packetbus.Bus
	logger *slog.Logger
}

// NewServer returns a Server with a fresh bus.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bus: packetbus.New(), logger: logger}
}

// Participants returns the number of live subscriptions.
func (s *Server) Participants() int {
	return s.bus.Len()
}

// Close cancels every subscription.
func (s *Server) Close() {
	s.bus.Close()
}

// Subscription is a controller or connection attached to a Server.
type Subscription struct {
	bus  *packetbus.Subscription
	once sync.Once

	mu        sync.Mutex
	cancelled bool
	detach    func()
}

// ID returns the underlying bus subscription's identifier.
func (s *Subscription) ID() uint64 {
	return s.bus.ID()
}

// Broadcast sends packet to every other participant.
func (s *Subscription) Broadcast(packet protocol.Packet) {
	s.bus.Send(packet)
}

// Cancel detaches the participant. Safe to call more than once and
// after the Server is closed.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.Cancel()
		s.mu.Lock()
		s.cancelled = true
		detach := s.detach
		s.detach = nil
		s.mu.Unlock()
		if detach != nil {
			detach()
		}
	})
}

// setDetach installs the observer cleanup run by Cancel, or runs it at
// once when the subscription was cancelled while it was being wired.
func (s *Subscription) setDetach(detach func()) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		detach()
		return
	}
	s.detach = detach
	s.mu.Unlock()
}

// SubscribeLocal attaches a local controller: its packets go to every
// other participant, and theirs are applied to it.
func (s *Server) SubscribeLocal(controller *Controller) *Subscription {
	subscription := &Subscription{bus: s.bus.Subscribe()}
	subscription.bus.OnPacket(controller.Handle)
	handle := controller.OnPacket(subscription.bus.Send)
	subscription.setDetach(func() { controller.Off(handle) })
	s.logger.Debug("local controller subscribed", "subscription", subscription.ID())
	return subscription
}

// SubscribeRemote attaches a guest connection. Bus traffic is sent to
// the connection; only media packets from the connection are relayed
// onto the bus. The subscription cancels itself when the connection
// closes.
func (s *Server) SubscribeRemote(conn Conn) *Subscription {
	logger := s.logger.With("remote", conn.RemoteID())
	subscription := &Subscription{bus: s.bus.Subscribe()}

	subscription.bus.OnPacket(func(packet protocol.Packet) {
		if err := conn.Send(packet); err != nil {
			logger.Debug("relaying to guest failed", "packet", packet.Type, "error", err)
		}
	})
	packetHandle := conn.OnPacket(func(packet protocol.Packet) {
		if packet.Type.IsMedia() {
			subscription.bus.Send(packet)
		}
	})
	closeHandle := conn.OnClose(func(peer.CloseEvent) { subscription.Cancel() })
	subscription.setDetach(func() {
		conn.Off(packetHandle)
		conn.Off(closeHandle)
	})

	logger.Debug("guest subscribed to media sync", "subscription", subscription.ID())
	return subscription
}
