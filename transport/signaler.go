// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Signaler carries WebRTC session descriptions between peers. How it
// does so (a rendezvous server, a chat room, copy and paste) is up to
// the deployment; Lockstep only needs one offer and one answer per
// PeerConnection because candidates are gathered before publishing.
type Signaler interface {
	// PublishOffer delivers a complete SDP offer from offererID to
	// targetID.
	PublishOffer(ctx context.Context, offererID, targetID, sdp string) error

	// PublishAnswer delivers a complete SDP answer from answererID back
	// to offererID.
	PublishAnswer(ctx context.Context, offererID, answererID, sdp string) error

	// PollOffers returns offers addressed to id that have not been
	// returned before.
	PollOffers(ctx context.Context, id string) ([]SignalMessage, error)

	// PollAnswers returns answers to id's offers that have not been
	// returned before.
	PollAnswers(ctx context.Context, id string) ([]SignalMessage, error)
}

// SignalMessage is one offer or answer.
type SignalMessage struct {
	// PeerID is the other party: the offerer for an offer, the
	// answerer for an answer.
	PeerID string

	// SDP is the session description with every ICE candidate
	// embedded.
	SDP string
}
