// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package packetbus is an in-process fan-out hub for packets.
//
// Every [Subscription] on a [Bus] receives each packet sent by every
// other live subscription on the same bus, never its own. A host uses
// one bus per session so that its own media controller and each guest
// connection are interchangeable subscribers: whoever changes the
// playback state, everyone else hears about it.
//
// Buses are constructed per use; there is no process-wide bus.
package packetbus

import (
	"sync"
	"sync/atomic"

	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/protocol"
)

var nextSubscriptionID atomic.Uint64

// Bus relays packets between its subscriptions.
type Bus struct {
	mu            sync.Mutex
	subscriptions []*Subscription
	closed        bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe adds a subscription. Subscribing to a closed bus returns
// a subscription that is already cancelled.
func (b *Bus) Subscribe() *Subscription {
	subscription := &Subscription{id: nextSubscriptionID.Add(1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		subscription.cancelled.Store(true)
		return subscription
	}
	subscription.bus = b
	b.subscriptions = append(b.subscriptions, subscription)
	return subscription
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Close cancels every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subscriptions := b.subscriptions
	b.subscriptions = nil
	b.closed = true
	b.mu.Unlock()

	for _, subscription := range subscriptions {
		subscription.Cancel()
	}
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, subscription := range b.subscriptions {
		if subscription == target {
			b.subscriptions = append(b.subscriptions[:i:i], b.subscriptions[i+1:]...)
			return
		}
	}
}

// others returns the live subscriptions other than sender.
func (b *Bus) others(sender *Subscription) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	recipients := make([]*Subscription, 0, len(b.subscriptions))
	for _, subscription := range b.subscriptions {
		if subscription != sender {
			recipients = append(recipients, subscription)
		}
	}
	return recipients
}

// Subscription is one endpoint on a Bus.
type Subscription struct {
	id        uint64
	cancelled atomic.Bool
	packets   event.Emitter[protocol.Packet]

	mu  sync.Mutex
	bus *Bus
}

// ID returns the subscription's identifier, distinct from every other
// subscription in the process.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Send delivers packet to every other live subscription on the bus.
// It does nothing once the subscription is cancelled.
func (s *Subscription) Send(packet protocol.Packet) {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return
	}
	for _, recipient := range bus.others(s) {
		recipient.receive(packet)
	}
}

// OnPacket registers fn for packets sent by other subscriptions.
func (s *Subscription) OnPacket(fn func(protocol.Packet)) event.Handle {
	return s.packets.On(fn)
}

// Off removes an observer registered with OnPacket.
func (s *Subscription) Off(handle event.Handle) bool {
	return s.packets.Off(handle)
}

// Cancelled reports whether Cancel has been called.
func (s *Subscription) Cancelled() bool {
	return s.cancelled.Load()
}

// Cancel stops delivery to and through the subscription. It is safe
// to call more than once and after the bus has been closed.
func (s *Subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.mu.Lock()
	bus := s.bus
	s.bus = nil
	s.mu.Unlock()

	if bus != nil {
		bus.remove(s)
	}
	s.packets.Clear()
}

func (s *Subscription) receive(packet protocol.Packet) {
	if s.cancelled.Load() {
		return
	}
	s.packets.Emit(packet)
}
