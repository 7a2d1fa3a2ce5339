// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. Two WebRTCTransports
// sharing one MemorySignaler can connect without any signaling server.
// Each message is delivered once.
type MemorySignaler struct {
	mu      sync.Mutex
	offers  map[string][]SignalMessage // keyed by recipient
	answers map[string][]SignalMessage // keyed by recipient
}

// NewMemorySignaler returns an empty signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[string][]SignalMessage),
		answers: make(map[string][]SignalMessage),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, offererID, targetID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[targetID] = append(s.offers[targetID], SignalMessage{PeerID: offererID, SDP: sdp})
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offererID, answererID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[offererID] = append(s.answers[offererID], SignalMessage{PeerID: answererID, SDP: sdp})
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, id string) ([]SignalMessage, error) {
	return s.drain(s.offers, id), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, id string) ([]SignalMessage, error) {
	return s.drain(s.answers, id), nil
}

func (s *MemorySignaler) drain(mailbox map[string][]SignalMessage, id string) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := mailbox[id]
	delete(mailbox, id)
	return messages
}
